package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/session"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/samber/lo"
)

type CreateRoomRequest struct {
	DoctorId string `json:"doctorId"`
	ClientId string `json:"clientId"`
}

type RoomExistsResponse struct {
	ChatroomId string `json:"chatroomId"`
	Message    string `json:"message"`
}

type AppendMessageRequest struct {
	Sender  string             `json:"sender"`
	Message string             `json:"message"`
	IsFile  []types.Attachment `json:"isFile,omitempty"`
}

// RoomSummary is a room as listed for a participant: its most recent
// message only.
type RoomSummary struct {
	ChatroomId  string         `json:"chatroomId"`
	DoctorId    string         `json:"doctorId"`
	ClientId    string         `json:"clientId"`
	CreatedAt   string         `json:"createdAt"`
	LastMessage *types.Message `json:"messages,omitempty"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", "error", err)
	}
}

// readJson decodes the request body into v, writing the error response
// itself when decoding fails.
func (s *GoChatApp) readJson(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
	case isBodyTooLarge(err):
		s.writeError(w, &ApiError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Code:       "VALIDATION_ERROR",
			Message:    "request body too large",
		})
	default:
		s.writeError(w, NewBadRequestError(""))
	}
	return err
}

func (s *GoChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Error("health check failed", "error", err)
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *GoChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := s.readJson(w, r, &req); err != nil {
		return
	}

	// A client going away must not abandon a half-applied mutation.
	ctx := context.WithoutCancel(r.Context())
	room, created, err := s.engine.CreateRoom(ctx, req.DoctorId, req.ClientId)
	if err != nil {
		s.writeError(w, fromSessionError(err))
		return
	}

	if !created {
		s.writeJson(w, http.StatusOK, RoomExistsResponse{
			ChatroomId: room.Id,
			Message:    "room already exist",
		})
		return
	}

	s.writeJson(w, http.StatusCreated, room)
}

func (s *GoChatApp) appendMessage(w http.ResponseWriter, r *http.Request) {
	roomId := r.PathValue("roomId")

	var req AppendMessageRequest
	if err := s.readJson(w, r, &req); err != nil {
		return
	}

	ctx := context.WithoutCancel(r.Context())
	out := s.engine.AppendMessage(ctx, session.Origin{}, roomId, req.Sender, req.Message, req.IsFile)
	if out.Err != nil {
		s.writeError(w, fromSessionError(out.Err))
		return
	}

	s.writeJson(w, http.StatusCreated, out.Directive.Payload)
}

func (s *GoChatApp) getRoom(w http.ResponseWriter, r *http.Request) {
	roomId := r.PathValue("roomId")

	count := 0
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, NewBadRequestError("count must be a non-negative integer"))
			return
		}
		count = n
	}

	room, err := s.engine.History(r.Context(), roomId, count)
	if err != nil {
		s.writeError(w, fromSessionError(err))
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *GoChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rooms, err := s.engine.ListRooms(r.Context(), types.ParseRole(q.Get("type")), q.Get("id"))
	if err != nil {
		s.writeError(w, fromSessionError(err))
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(rooms, func(room types.Room, _ int) RoomSummary {
		summary := RoomSummary{
			ChatroomId: room.Id,
			DoctorId:   room.InitiatorId,
			ClientId:   room.ResponderId,
			CreatedAt:  room.CreatedAt,
		}
		if n := len(room.Messages); n > 0 {
			summary.LastMessage = &room.Messages[n-1]
		}
		return summary
	}))
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("error upgrading connection", "error", err)
		return
	}

	client, err := server.NewClient(conn, s.cs, s.engine, s.log)
	if err != nil {
		s.log.Error("new client", "error", err)
		conn.Close()
		return
	}

	if err := s.cs.RegisterClient(client); err != nil {
		s.log.Warn("rejecting connection", "error", err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"))
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}

