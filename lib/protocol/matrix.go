// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bureau-foundation/chatsync/lib/ref"
	"github.com/bureau-foundation/chatsync/messaging"
)

// MatrixConfig configures a Matrix facade.
type MatrixConfig struct {
	// Session performs the client-server API calls.
	Session messaging.Session

	// Stream delivers live events. The caller owns its Run loop.
	Stream *messaging.SyncStream

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Matrix implements Facade over a Matrix session and sync stream.
type Matrix struct {
	session messaging.Session
	stream  *messaging.SyncStream
	logger  *slog.Logger
}

// Compile-time check: *Matrix implements Facade.
var _ Facade = (*Matrix)(nil)

// NewMatrix creates a Matrix facade.
func NewMatrix(config MatrixConfig) (*Matrix, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("protocol: Session is required")
	}
	if config.Stream == nil {
		return nil, fmt.Errorf("protocol: Stream is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Matrix{session: config.Session, stream: config.Stream, logger: logger}, nil
}

// UserID returns the session owner.
func (m *Matrix) UserID() ref.UserID {
	return m.session.UserID()
}

// SendMessage sends an m.text message.
func (m *Matrix) SendMessage(ctx context.Context, roomID ref.RoomID, text string) (ref.EventID, error) {
	eventID, err := m.session.SendMessage(ctx, roomID, messaging.NewTextMessage(text))
	if err != nil {
		return ref.EventID{}, classify("send", err)
	}
	return eventID, nil
}

// RoomSnapshot reads the full room state and folds it into a snapshot.
func (m *Matrix) RoomSnapshot(ctx context.Context, roomID ref.RoomID) (*RoomSnapshot, error) {
	events, err := m.session.GetRoomState(ctx, roomID)
	if err != nil {
		return nil, classify("snapshot", err)
	}

	snapshot := &RoomSnapshot{RoomID: roomID}
	self := m.session.UserID()
	for _, event := range events {
		stateKey := ""
		if event.StateKey != nil {
			stateKey = *event.StateKey
		}
		switch event.Type {
		case ref.EventTypeName:
			snapshot.Name = event.ContentString("name")
		case ref.EventTypeAvatar:
			snapshot.AvatarURL = event.ContentString("url")
		case ref.EventTypeJoinRules:
			snapshot.JoinRule = event.ContentString("join_rule")
		case ref.EventTypeMember:
			userID, err := ref.ParseUserID(stateKey)
			if err != nil {
				m.logger.Warn("skipping member event with malformed state key",
					"room_id", roomID, "state_key", stateKey)
				continue
			}
			membership := event.ContentString("membership")
			snapshot.Members = append(snapshot.Members, Member{UserID: userID, Membership: membership})
			if userID == self {
				snapshot.OwnMembership = membership
			}
		}
	}
	sort.Slice(snapshot.Members, func(i, j int) bool {
		return snapshot.Members[i].UserID.String() < snapshot.Members[j].UserID.String()
	})
	return snapshot, nil
}

// PaginateBackward reads one page of /messages in the backward
// direction and returns it oldest first.
func (m *Matrix) PaginateBackward(ctx context.Context, roomID ref.RoomID, cursor string, limit int) (*Page, error) {
	response, err := m.session.RoomMessages(ctx, roomID, messaging.RoomMessagesOptions{
		From:      cursor,
		Direction: "b",
		Limit:     limit,
	})
	if err != nil {
		return nil, classify("paginate", err)
	}

	page := &Page{
		Events:     make([]Event, 0, len(response.Chunk)),
		NextCursor: response.End,
		// The server omits end once the start of the room is reached;
		// an empty chunk with an end token also means nothing older.
		HasMore: response.End != "" && len(response.Chunk) > 0,
	}
	for index := len(response.Chunk) - 1; index >= 0; index-- {
		event := response.Chunk[index]
		event.RoomID = roomID
		page.Events = append(page.Events, eventFromMatrix(event))
	}
	return page, nil
}

// SubscribeLiveEvents forwards every live timeline event from the sync
// stream.
func (m *Matrix) SubscribeLiveEvents(handler func(Event)) (unsubscribe func()) {
	return m.stream.Subscribe(func(roomID ref.RoomID, event messaging.Event) {
		event.RoomID = roomID
		handler(eventFromMatrix(event))
	})
}

// AccountMetadata reads a global account-data event.
func (m *Matrix) AccountMetadata(ctx context.Context, key ref.EventType) (json.RawMessage, error) {
	content, err := m.session.GetAccountData(ctx, key)
	if err != nil {
		return nil, classify("account metadata", err)
	}
	return content, nil
}

// SetAccountMetadata writes a global account-data event.
func (m *Matrix) SetAccountMetadata(ctx context.Context, key ref.EventType, value any) error {
	if err := m.session.SetAccountData(ctx, key, value); err != nil {
		return classify("set account metadata", err)
	}
	return nil
}

// JoinRoom joins by room ID or alias.
func (m *Matrix) JoinRoom(ctx context.Context, roomIDOrAlias string) (ref.RoomID, error) {
	var (
		roomID ref.RoomID
		err    error
	)
	switch {
	case strings.HasPrefix(roomIDOrAlias, "#"):
		alias, parseErr := ref.ParseRoomAlias(roomIDOrAlias)
		if parseErr != nil {
			return ref.RoomID{}, fmt.Errorf("%w: %w", ErrNotFound, parseErr)
		}
		roomID, err = m.session.JoinAlias(ctx, alias)
	default:
		target, parseErr := ref.ParseRoomID(roomIDOrAlias)
		if parseErr != nil {
			return ref.RoomID{}, fmt.Errorf("%w: %w", ErrNotFound, parseErr)
		}
		roomID, err = m.session.JoinRoom(ctx, target)
	}
	if err != nil {
		return ref.RoomID{}, classify("join", err)
	}
	return roomID, nil
}

// CreateRoom maps the options onto a createRoom request: public rooms
// use the public_chat preset and are directory-listed, direct rooms use
// trusted_private_chat with is_direct, anything else is private_chat.
func (m *Matrix) CreateRoom(ctx context.Context, options CreateRoomOptions) (ref.RoomID, error) {
	request := messaging.CreateRoomRequest{
		Name:       options.Name,
		Alias:      options.Alias,
		Invite:     options.Invite,
		Visibility: "private",
		Preset:     messaging.PresetPrivateChat,
	}
	switch {
	case options.Public:
		request.Visibility = "public"
		request.Preset = messaging.PresetPublicChat
	case options.Direct:
		request.Preset = messaging.PresetTrustedPrivateChat
		request.IsDirect = true
	}

	response, err := m.session.CreateRoom(ctx, request)
	if err != nil {
		return ref.RoomID{}, classify("create room", err)
	}
	return response.RoomID, nil
}

// LeaveRoom leaves a room.
func (m *Matrix) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	return classify("leave", m.session.LeaveRoom(ctx, roomID))
}

// ForgetRoom forgets a left room.
func (m *Matrix) ForgetRoom(ctx context.Context, roomID ref.RoomID) error {
	return classify("forget", m.session.ForgetRoom(ctx, roomID))
}

// classify maps a messaging error onto the facade taxonomy. Matrix
// errors that carry a recognized code gain the matching sentinel while
// keeping the *messaging.MatrixError in the chain; other Matrix errors
// pass through; anything that never reached the homeserver's API layer
// becomes a *TransportError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var matrixErr *messaging.MatrixError
	if !errors.As(err, &matrixErr) {
		return &TransportError{Op: op, Err: err}
	}
	switch matrixErr.Code {
	case messaging.ErrCodeNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case messaging.ErrCodeRoomInUse:
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case messaging.ErrCodeLimitExceeded:
		return &TransportError{Op: op, Err: err}
	}
	if matrixErr.StatusCode >= 500 {
		return &TransportError{Op: op, Err: err}
	}
	return err
}

func eventFromMatrix(event messaging.Event) Event {
	converted := Event{
		RoomID:    event.RoomID,
		ID:        event.EventID.String(),
		Type:      event.Type,
		Sender:    event.Sender,
		Timestamp: time.UnixMilli(event.OriginServerTS),
	}
	switch event.Type {
	case ref.EventTypeMessage:
		converted.Body = event.ContentString("body")
		converted.MsgType = event.ContentString("msgtype")
	case ref.EventTypeName:
		converted.Name = event.ContentString("name")
	case ref.EventTypeAvatar:
		converted.AvatarURL = event.ContentString("url")
	}
	if event.Unsigned != nil {
		converted.TransactionID = event.Unsigned.TransactionID
	}
	return converted
}
