package types

import (
	"errors"
	"fmt"
	"mime"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var ErrUnsupportedAttachment = errors.New("unsupported attachment type")

// allowedExtensions lists the file kinds accepted as attachments.
var allowedExtensions = map[string]struct{}{
	".pdf":  {},
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// Validate checks that the descriptor carries a resolvable URL and a
// recognized, allowed content type. File bytes are never inspected.
func (a Attachment) Validate() error {
	if err := validate.Struct(a); err != nil {
		return err
	}

	mediaType, _, err := mime.ParseMediaType(a.ContentType)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedAttachment, a.ContentType)
	}

	m := mimetype.Lookup(mediaType)
	if m == nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedAttachment, a.ContentType)
	}

	if _, ok := allowedExtensions[m.Extension()]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedAttachment, a.ContentType)
	}

	return nil
}

func ValidateAttachments(attachments []Attachment) error {
	for i, a := range attachments {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("attachment %d: %w", i, err)
		}
	}
	return nil
}
