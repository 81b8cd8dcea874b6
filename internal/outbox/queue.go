package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/matchchat/internal/store"
	"go.uber.org/zap"
)

// ErrNoQueue is returned by Queue when the sender has no database.
var ErrNoQueue = errors.New("outbox: no database")

// Queue stores a message for delivery by the drain loop and returns its
// client id. Typing indicators are not queued.
func (s *Sender) Queue(recipient string, content Content) (string, error) {
	if s.db == nil {
		return "", ErrNoQueue
	}
	if content.Kind == KindTyping {
		return "", errors.New("outbox: typing indicators are not queued")
	}
	id := uuid.NewString()
	body := content.Text
	if content.Kind == KindAudio {
		body = content.AudioBase64
	}
	err := s.db.QueueOutbox(&store.OutboxEntry{
		ClientMsgID:   id,
		RecipientUUID: recipient,
		Kind:          string(content.Kind),
		Body:          body,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Start begins polling the outbox for queued messages. Entries a previous
// run left mid-delivery are queued again first.
func (s *Sender) Start(ctx context.Context) {
	if s.db == nil {
		return
	}
	if n, err := s.db.RequeueInterrupted(); err != nil {
		s.logger.Error("failed to requeue interrupted messages", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued interrupted messages", zap.Int64("count", n))
	}

	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()
	go s.loop(ctx)
}

// Stop stops the drain loop and waits for the current delivery to end.
func (s *Sender) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	if s.online != nil && !s.online() {
		return
	}
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		content := Text(entry.Body)
		if ContentKind(entry.Kind) == KindAudio {
			content = Audio(entry.Body)
		}
		out := s.Send(ctx, entry.RecipientUUID, content, entry.ClientMsgID, SendOptions{})
		if ctx.Err() != nil {
			// Interrupted by shutdown; RequeueInterrupted picks it up next run.
			return
		}
		if err := s.db.MarkOutboxDone(entry.ClientMsgID, string(out.Status)); err != nil {
			s.logger.Error("failed to mark done", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
	}
}
