// Bridge HTTP handlers.
//
// This file exposes the endpoints the stateless web tier uses to push events
// into the relay and to read its in-memory state:
//   - POST /emit            (execute one bridge event)
//   - GET  /health          (liveness)
//   - GET  /status          (connection, room, meeting and message counters)
//   - GET  /online-users    (presence snapshot)
//   - GET  /voice-meetings  (active meetings, or one channel's meeting)
//
// Handlers are transport-thin: they bind input, delegate to the relay's
// Bridge, and map its typed errors to the standard error envelope.
//
// Idempotency:
// If the caller supplies an Idempotency-Key header and a previous emit with the
// same (caller, key) succeeded, the handler returns the recorded result and
// sets `Idempotency-Replayed: true` without emitting again. The key is reserved
// before emitting, so a concurrent retry gets 409 instead of a second emit.
// A failed emit releases the reservation.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-relay/internal/http/middleware"
	"github.com/tbourn/go-chat-relay/internal/relay"
	"github.com/tbourn/go-chat-relay/internal/utils"
)

// HeaderReplayed marks a response served from a previous emit.
const HeaderReplayed = "Idempotency-Replayed"

// Bridge is the relay surface the handlers depend on. *relay.Bridge
// satisfies it.
type Bridge interface {
	Emit(ctx context.Context, req relay.EmitRequest) (relay.EmitResult, error)
	OnlineUsers() map[string]relay.OnlineUser
	Meetings() []relay.Meeting
	Meeting(channelID string) (relay.Meeting, error)
	Status(ctx context.Context) relay.StatusSnapshot
}

// ReplayStore records emit results by idempotency key. *relay.DedupCache
// satisfies it.
type ReplayStore interface {
	Get(key string) (string, bool)
	Put(key, value string)
	PutIfAbsent(key, value string) (string, bool)
	Remove(key string)
}

// replayPending marks a key whose emit is still running. Recorded results are
// JSON objects and never empty.
const replayPending = ""

// Handlers groups the bridge endpoints.
type Handlers struct {
	bridge  Bridge
	replays ReplayStore
}

// New returns Handlers over b. replays may be nil to disable idempotent
// replays.
func New(b Bridge, replays ReplayStore) *Handlers {
	return &Handlers{bridge: b, replays: replays}
}

// ReplayKey scopes an idempotency key to its caller.
func ReplayKey(caller, key string) string { return caller + "|" + key }

// RecordedReplay returns the stored result for (caller, key) once its emit
// has completed.
func RecordedReplay(store ReplayStore, caller, key string) (string, bool) {
	if store == nil {
		return "", false
	}
	v, found := store.Get(ReplayKey(caller, key))
	if !found || v == replayPending {
		return "", false
	}
	return v, true
}

//
// DTOs
//

// EmitResponse is the JSON envelope for a completed emit.
type EmitResponse struct {
	Success bool `json:"success" example:"true"`
	relay.EmitResult
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

// OnlineUsersResponse is the presence snapshot keyed by user id.
type OnlineUsersResponse struct {
	Users map[string]relay.OnlineUser `json:"users"`
	Count int                         `json:"count" example:"2"`
}

// VoiceMeetingsResponse lists active voice meetings ordered by channel id.
type VoiceMeetingsResponse struct {
	Meetings []relay.Meeting `json:"meetings"`
	Count    int             `json:"count" example:"1"`
}

//
// Handlers
//

// Emit godoc
// @ID          emitEvent
// @Summary     Push an event into the relay
// @Description Executes one bridge event (broadcast, notify-user, broadcast-to-room,
// @Description channel-message, direct-message, member-joined-community).
// @Description Zero recipients is a success. Supports idempotent retries via Idempotency-Key.
// @Tags        Bridge
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string             false  "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       X-Caller-ID      header  string             false  "Calling web-tier instance"         example(web-1)
// @Param       body             body    relay.EmitRequest  true   "Bridge event"
//
// @Success     200  {object}  handlers.EmitResponse   "Emit result"
// @Failure     400  {object}  handlers.ErrorResponse  "Missing identifiers or unknown event"
// @Failure     409  {object}  handlers.ErrorResponse  "Same Idempotency-Key still in progress"
// @Failure     422  {object}  handlers.ErrorResponse  "Outbound frame failed validation"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /emit [post]
func (h *Handlers) Emit(c *gin.Context) {
	idemKey, _ := middleware.GetIdempotencyKey(c)
	replayKey := ReplayKey(middleware.CallerID(c), idemKey)
	idempotent := idemKey != "" && h.replays != nil

	var req relay.EmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	if idempotent {
		if prev, fresh := h.replays.PutIfAbsent(replayKey, replayPending); !fresh {
			if prev == replayPending {
				fail(c, http.StatusConflict, ErrCodeIdempotencyInFlight, "an emit with this Idempotency-Key is in progress")
				return
			}
			var res relay.EmitResult
			if err := json.Unmarshal([]byte(prev), &res); err == nil {
				c.Header(HeaderReplayed, "true")
				ok(c, http.StatusOK, EmitResponse{Success: true, EmitResult: res})
				return
			}
			h.replays.Put(replayKey, replayPending)
		}
	}

	res, err := h.bridge.Emit(c.Request.Context(), req)
	if err != nil {
		if idempotent {
			h.replays.Remove(replayKey)
		}
		failErr(c, err, ErrCodeEmitFailed)
		return
	}

	if idempotent {
		if b, err := json.Marshal(res); err == nil {
			h.replays.Put(replayKey, string(b))
		} else {
			h.replays.Remove(replayKey)
		}
	}

	middleware.LoggerFrom(c).Debug().
		Str("event", res.Event).
		Int("delivered", res.Delivered).
		Msg("emitted")
	ok(c, http.StatusOK, EmitResponse{Success: true, EmitResult: res})
}

// Health godoc
// @ID          health
// @Summary     Liveness probe
// @Tags        Ops
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{Status: "ok"})
}

// Status godoc
// @ID          status
// @Summary     Relay counters
// @Description Open connections, online users, rooms, voice meetings, uptime and persisted message totals.
// @Tags        Ops
// @Produce     json
// @Success     200  {object}  relay.StatusSnapshot
// @Router      /status [get]
func (h *Handlers) Status(c *gin.Context) {
	ok(c, http.StatusOK, h.bridge.Status(c.Request.Context()))
}

// OnlineUsers godoc
// @ID          onlineUsers
// @Summary     Presence snapshot
// @Description Every user with at least one authenticated connection.
// @Tags        Bridge
// @Produce     json
// @Success     200  {object}  handlers.OnlineUsersResponse
// @Router      /online-users [get]
func (h *Handlers) OnlineUsers(c *gin.Context) {
	users := h.bridge.OnlineUsers()
	ok(c, http.StatusOK, OnlineUsersResponse{Users: users, Count: len(users)})
}

// VoiceMeetings godoc
// @ID          voiceMeetings
// @Summary     Active voice meetings
// @Description Lists active meetings ordered by channel id, or returns one channel's meeting when channelId is set.
// @Tags        Bridge
// @Produce     json
//
// @Param       channelId  query  string  false  "Channel id (bare or channel- prefixed)"  example(42)
// @Param       limit      query  int     false  "Maximum meetings listed"  minimum(1) maximum(500) default(100)
//
// @Success     200  {object}  handlers.VoiceMeetingsResponse
// @Failure     404  {object}  handlers.ErrorResponse  "No active meeting in channel"
// @Router      /voice-meetings [get]
func (h *Handlers) VoiceMeetings(c *gin.Context) {
	if channelID := strings.TrimSpace(c.Query("channelId")); channelID != "" {
		mt, err := h.bridge.Meeting(channelID)
		if err != nil {
			failErr(c, err, ErrCodeInternal)
			return
		}
		ok(c, http.StatusOK, VoiceMeetingsResponse{Meetings: []relay.Meeting{mt}, Count: 1})
		return
	}

	meetings := h.bridge.Meetings()
	if limit := clampLimit(c.Query("limit")); len(meetings) > limit {
		meetings = meetings[:limit]
	}
	ok(c, http.StatusOK, VoiceMeetingsResponse{Meetings: meetings, Count: len(meetings)})
}

// clampLimit parses a list limit: default 100, at most 500.
func clampLimit(raw string) int {
	return utils.ClampAtoi(raw, 100, 1, 500)
}
