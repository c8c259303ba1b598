// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/chatsync/lib/protocol"
	"github.com/bureau-foundation/chatsync/lib/ref"
)

// Config configures a Resolver.
type Config struct {
	// Facade performs all server calls.
	Facade protocol.Facade

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Resolver resolves identifiers to rooms and maintains the direct-chat
// mapping. It holds no cached state: every call reads the server.
type Resolver struct {
	facade protocol.Facade
	logger *slog.Logger

	// inflight coalesces concurrent resolves of the same target so
	// two callers never create two rooms for one alias or peer.
	inflight singleflight.Group

	// mappingMu serializes read-modify-write cycles on m.direct.
	mappingMu sync.Mutex
}

// New creates a Resolver.
func New(config Config) (*Resolver, error) {
	if config.Facade == nil {
		return nil, fmt.Errorf("directory: Facade is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{facade: config.Facade, logger: logger}, nil
}

// Resolve returns the room identifier refers to, joining or creating
// it as needed. Identifiers that are not a room ID, alias, or user ID
// fail with ErrInvalidIdentifier.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (ref.RoomID, error) {
	target, err := ParseTarget(identifier, r.facade.UserID().Server())
	if err != nil {
		return ref.RoomID{}, err
	}

	// The shared call outlives any one caller: a caller whose context
	// ends stops waiting, the others still get the result.
	key := target.Kind.String() + ":" + target.String()
	sharedCtx := context.WithoutCancel(ctx)
	results := r.inflight.DoChan(key, func() (any, error) {
		switch target.Kind {
		case TargetAlias:
			return r.resolveAlias(sharedCtx, target.Alias)
		case TargetUser:
			return r.resolveDirect(sharedCtx, target.UserID)
		default:
			return r.resolveRoom(sharedCtx, target.RoomID)
		}
	})

	select {
	case <-ctx.Done():
		return ref.RoomID{}, fmt.Errorf("resolving %s: %w", key, ctx.Err())
	case result := <-results:
		if result.Shared {
			r.logger.Debug("coalesced concurrent resolve", "target", key)
		}
		if result.Err != nil {
			return ref.RoomID{}, result.Err
		}
		return result.Val.(ref.RoomID), nil
	}
}

// resolveRoom joins a room by ID. Transport failures pass through;
// every other failure is reported as ErrNotFound.
func (r *Resolver) resolveRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	joined, err := r.facade.JoinRoom(ctx, roomID.String())
	if err == nil {
		return joined, nil
	}
	if protocol.IsTransport(err) || errors.Is(err, protocol.ErrNotFound) {
		return ref.RoomID{}, fmt.Errorf("joining %s: %w", roomID, err)
	}
	return ref.RoomID{}, fmt.Errorf("joining %s: %w: %w", roomID, protocol.ErrNotFound, err)
}

// resolveAlias joins the alias, creating a public room for it when it
// does not exist. A create that loses the race for the alias to another
// client retries the join once.
func (r *Resolver) resolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	roomID, err := r.facade.JoinRoom(ctx, alias.String())
	if err == nil {
		return roomID, nil
	}
	if !errors.Is(err, protocol.ErrNotFound) {
		return ref.RoomID{}, fmt.Errorf("joining %s: %w", alias, err)
	}

	// Only aliases on our own server can be created from here.
	if alias.Server() != r.facade.UserID().Server() {
		return ref.RoomID{}, fmt.Errorf("joining %s: %w", alias, err)
	}

	r.logger.Info("alias not found, creating public room", "alias", alias)
	roomID, err = r.facade.CreateRoom(ctx, protocol.CreateRoomOptions{
		Name:   alias.Localpart(),
		Alias:  alias.Localpart(),
		Public: true,
	})
	if err == nil {
		return roomID, nil
	}
	if !errors.Is(err, protocol.ErrConflict) {
		return ref.RoomID{}, fmt.Errorf("creating %s: %w", alias, err)
	}

	r.logger.Info("alias claimed concurrently, retrying join", "alias", alias)
	roomID, retryErr := r.facade.JoinRoom(ctx, alias.String())
	if retryErr != nil {
		return ref.RoomID{}, fmt.Errorf("joining %s after create conflict: %w: %w", alias, protocol.ErrConflict, retryErr)
	}
	return roomID, nil
}

// resolveDirect returns an existing direct chat with peer or creates
// one. An existing room is reused when the session owner is joined or
// invited; an invite is accepted on the way.
func (r *Resolver) resolveDirect(ctx context.Context, peer ref.UserID) (ref.RoomID, error) {
	if peer == r.facade.UserID() {
		return ref.RoomID{}, fmt.Errorf("%w: cannot open a direct chat with yourself", ErrInvalidIdentifier)
	}

	mapping, err := r.readMapping(ctx)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("reading direct chats: %w", err)
	}

	for _, candidate := range mapping.Rooms(peer) {
		snapshot, err := r.facade.RoomSnapshot(ctx, candidate)
		if err != nil {
			r.logger.Warn("skipping direct chat candidate",
				"peer", peer, "room_id", candidate, "error", err)
			continue
		}
		switch snapshot.OwnMembership {
		case protocol.MembershipJoin:
			return candidate, nil
		case protocol.MembershipInvite:
			if _, err := r.facade.JoinRoom(ctx, candidate.String()); err != nil {
				r.logger.Warn("accepting direct chat invite failed",
					"peer", peer, "room_id", candidate, "error", err)
			}
			return candidate, nil
		}
	}

	roomID, err := r.facade.CreateRoom(ctx, protocol.CreateRoomOptions{
		Direct: true,
		Invite: []ref.UserID{peer},
	})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("creating direct chat with %s: %w", peer, err)
	}
	r.logger.Info("created direct chat", "peer", peer, "room_id", roomID)

	if err := r.updateMapping(ctx, func(mapping DirectMapping) bool {
		return mapping.Add(peer, roomID)
	}); err != nil {
		r.logger.Warn("recording direct chat failed",
			"peer", peer, "room_id", roomID, "error", err)
	}
	return roomID, nil
}

// Leave leaves the room, then forgets it and removes it from the
// direct-chat mapping. Only the leave itself can fail the call; the
// cleanup steps are logged and never rolled back.
func (r *Resolver) Leave(ctx context.Context, roomID ref.RoomID) error {
	if err := r.facade.LeaveRoom(ctx, roomID); err != nil {
		return fmt.Errorf("leaving %s: %w", roomID, err)
	}

	if err := r.facade.ForgetRoom(ctx, roomID); err != nil {
		r.logger.Warn("forgetting room failed", "room_id", roomID, "error", err)
	}

	if err := r.updateMapping(ctx, func(mapping DirectMapping) bool {
		return mapping.RemoveRoom(roomID)
	}); err != nil {
		r.logger.Warn("removing room from direct chats failed", "room_id", roomID, "error", err)
	}
	return nil
}

// IsDirectChat classifies a room; see ClassifyDirect.
func (r *Resolver) IsDirectChat(ctx context.Context, roomID ref.RoomID) (bool, error) {
	mapping, err := r.readMapping(ctx)
	if err != nil {
		return false, fmt.Errorf("reading direct chats: %w", err)
	}
	if mapping.Contains(roomID) {
		return true, nil
	}
	snapshot, err := r.facade.RoomSnapshot(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("reading state of %s: %w", roomID, err)
	}
	return ClassifyDirect(mapping, snapshot), nil
}

// DirectMapping returns the current direct-chat mapping. An account
// that never stored one yields an empty mapping.
func (r *Resolver) DirectMapping(ctx context.Context) (DirectMapping, error) {
	return r.readMapping(ctx)
}

func (r *Resolver) readMapping(ctx context.Context) (DirectMapping, error) {
	raw, err := r.facade.AccountMetadata(ctx, ref.EventTypeDirect)
	if errors.Is(err, protocol.ErrNotFound) {
		return DirectMapping{}, nil
	}
	if err != nil {
		return nil, err
	}
	mapping := DirectMapping{}
	if len(raw) == 0 || string(raw) == "null" {
		return mapping, nil
	}
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ref.EventTypeDirect, err)
	}
	return mapping, nil
}

// updateMapping applies mutate to a freshly read mapping and writes it
// back if mutate reports a change.
func (r *Resolver) updateMapping(ctx context.Context, mutate func(DirectMapping) bool) error {
	r.mappingMu.Lock()
	defer r.mappingMu.Unlock()

	mapping, err := r.readMapping(ctx)
	if err != nil {
		return err
	}
	if !mutate(mapping) {
		return nil
	}
	return r.facade.SetAccountMetadata(ctx, ref.EventTypeDirect, mapping)
}
