package api

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/matchchat/internal/bus"
	"github.com/matheus3301/matchchat/internal/inbox"
	"github.com/matheus3301/matchchat/internal/presence"
	"github.com/matheus3301/matchchat/internal/status"
	intsync "github.com/matheus3301/matchchat/internal/sync"
	"github.com/matheus3301/matchchat/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// retainedKinds are replayed to a new watcher before live events.
var retainedKinds = []string{bus.KindConnState, bus.KindChatOnline, bus.KindInboxChanged}

// SyncConfig carries the tunables SyncService needs.
type SyncConfig struct {
	SessionName string
	PageSize    int
}

// SyncService drives inbox refreshes, presence and the event stream.
type SyncService struct {
	inbox      *inbox.Store
	reconciler *intsync.Reconciler
	batcher    *presence.Batcher
	tracker    *presence.Tracker
	machine    *status.Machine
	bus        *bus.Bus
	cfg        SyncConfig
}

// NewSyncService creates a new sync service.
func NewSyncService(in *inbox.Store, r *intsync.Reconciler, batcher *presence.Batcher, tracker *presence.Tracker, machine *status.Machine, b *bus.Bus, cfg SyncConfig) *SyncService {
	return &SyncService{
		inbox:      in,
		reconciler: r,
		batcher:    batcher,
		tracker:    tracker,
		machine:    machine,
		bus:        b,
		cfg:        cfg,
	}
}

func (s *SyncService) GetSyncStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := map[string]any{"state": string(s.machine.Current())}
	if s.reconciler != nil {
		resp["last_refresh_ms"] = unixMilli(s.reconciler.LastRefresh())
		resp["watermark_ms"] = unixMilli(s.reconciler.Watermark())
	}
	if s.inbox != nil {
		resp["stats"] = statsMap(s.inbox.Inbox().Stats())
	}
	return toStruct(resp)
}

func (s *SyncService) RefreshInbox(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.inbox == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "inbox not initialized")
	}
	started := time.Now()
	if err := s.inbox.Refresh(ctx); err != nil {
		return nil, callError("refresh inbox", err)
	}
	in := s.inbox.Inbox()
	if s.reconciler != nil {
		s.reconciler.MarkRefreshed(started, in.EndTimestamp)
	}
	return toStruct(map[string]any{"stats": statsMap(in.Stats())})
}

func (s *SyncService) LoadMoreInbox(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.inbox == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "inbox not initialized")
	}
	size := int(num(req, "page_size"))
	if size <= 0 {
		size = s.cfg.PageSize
	}
	added, err := s.inbox.LoadMore(ctx, size)
	if err != nil {
		return nil, callError("load more", err)
	}
	in := s.inbox.Inbox()
	if s.reconciler != nil {
		s.reconciler.MarkRefreshed(s.reconciler.LastRefresh(), in.EndTimestamp)
	}
	return toStruct(map[string]any{"added": added, "stats": statsMap(in.Stats())})
}

func (s *SyncService) GetPresence(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := personArg(req)
	if err != nil {
		return nil, err
	}
	st := presence.Offline
	if s.tracker != nil {
		st = s.tracker.Status(id)
	}
	return toStruct(map[string]any{"person_uuid": id, "status": string(st)})
}

// WatchEvents streams bus events whose kind starts with "prefix" (all events
// when empty). People listed under "presence" are subscribed for the
// lifetime of the stream. Retained signals are sent first.
func (s *SyncService) WatchEvents(req *structpb.Struct, stream grpc.ServerStream) error {
	if s.bus == nil {
		return grpcstatus.Errorf(codes.Unavailable, "bus not initialized")
	}
	prefix := str(req, "prefix")
	ch, unsub := s.bus.Subscribe(prefix, 256)
	defer unsub()

	retained := slices.Clone(retainedKinds)
	for _, id := range strs(req, "presence") {
		if !wire.IsPersonUUID(id) {
			return grpcstatus.Errorf(codes.InvalidArgument, "presence %q is not a uuid", id)
		}
		if s.batcher != nil {
			defer s.batcher.Subscribe(id)()
		}
		retained = append(retained, bus.KindPresencePrefix+id)
	}

	for _, kind := range retained {
		if !strings.HasPrefix(kind, prefix) {
			continue
		}
		if evt, ok := s.bus.Last(kind); ok {
			if err := s.send(stream, evt); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case evt := <-ch:
			if err := s.send(stream, evt); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *SyncService) send(stream grpc.ServerStream, evt bus.Event) error {
	env := map[string]any{
		"event_id":            uuid.NewString(),
		"session":             s.cfg.SessionName,
		"kind":                evt.Kind,
		"occurred_at_unix_ms": evt.Timestamp.UnixMilli(),
		"payload_version":     1,
	}
	if p := eventPayload(evt); p != nil {
		env["payload"] = p
	}
	msg, err := toStruct(env)
	if err != nil {
		return err
	}
	return stream.SendMsg(msg)
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
