package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/expense-assistant/internal/logger"
	"github.com/dvloznov/expense-assistant/internal/router"
)

// MessageHandler turns a message into its single reply.
type MessageHandler interface {
	Handle(ctx context.Context, msg router.Message) string
}

// MediaDownloader fetches an attachment held by the channel.
type MediaDownloader interface {
	Download(ctx context.Context, mediaID string) (data []byte, mimeType string, err error)
}

// MediaArchive keeps attachments between retries.
type MediaArchive interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Sender delivers the reply.
type Sender interface {
	Send(ctx context.Context, to, text string) bool
}

// MediaUnavailableText is the reply when an attachment cannot be fetched
// and no further attempt will be made.
const MediaUnavailableText = "❌ Não consegui baixar o seu arquivo, então nenhum gasto foi registrado. Envie novamente ou descreva o gasto por texto."

// ObjectNamer names archived attachments.
type ObjectNamer func(user, messageID, filename, mimeType string, receivedAt time.Time) string

// Worker handles MessageJobs: it resolves media, routes the message and
// sends the reply.
type Worker struct {
	handler    MessageHandler
	sender     Sender
	downloader MediaDownloader
	archive    MediaArchive
	objectName ObjectNamer
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithDownloader enables media messages.
func WithDownloader(d MediaDownloader) WorkerOption {
	return func(w *Worker) { w.downloader = d }
}

// WithArchive stores downloaded media and reads media referenced by URI.
func WithArchive(a MediaArchive, name ObjectNamer) WorkerOption {
	return func(w *Worker) {
		w.archive = a
		w.objectName = name
	}
}

// NewWorker creates a Worker.
func NewWorker(handler MessageHandler, sender Sender, opts ...WorkerOption) *Worker {
	w := &Worker{handler: handler, sender: sender}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle is a JobHandler. Only media resolution errors are returned, so
// a retry never repeats a reply that was already produced. When media
// resolution fails for the last time, or fails in a way a retry cannot
// fix, the user is told before the error is returned.
func (w *Worker) Handle(ctx context.Context, job *MessageJob) error {
	msg := router.Message{
		ID:         job.MessageID,
		Sender:     job.Sender,
		Kind:       router.MessageKind(job.Kind),
		Text:       job.Text,
		MIMEType:   job.MIMEType,
		Filename:   job.Filename,
		ReceivedAt: job.ReceivedAt,
	}

	if job.MediaID != "" || job.MediaURI != "" {
		data, err := w.resolveMedia(ctx, job)
		if err != nil {
			if isPermanent(err) {
				err = fmt.Errorf("%w: %w", ErrPermanent, err)
			}
			if errors.Is(err, ErrPermanent) || job.RetryCount >= job.MaxRetries {
				w.reply(ctx, job, MediaUnavailableText)
			}
			return err
		}
		msg.Media = data
		msg.MIMEType = job.MIMEType
	}

	w.reply(ctx, job, w.handler.Handle(ctx, msg))
	return nil
}

func (w *Worker) reply(ctx context.Context, job *MessageJob, text string) {
	job.Reply = text
	if !w.sender.Send(ctx, job.Sender, text) {
		log := logger.FromContext(ctx)
		log.Warn().Msg("Reply was not delivered")
	}
}

// isPermanent reports whether some error in err's chain says a later
// attempt cannot succeed.
func isPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}

// resolveMedia prefers the archived copy and archives fresh downloads.
func (w *Worker) resolveMedia(ctx context.Context, job *MessageJob) ([]byte, error) {
	log := logger.FromContext(ctx)

	if job.MediaURI != "" && w.archive != nil {
		data, err := w.archive.Fetch(ctx, job.MediaURI)
		if err == nil {
			return data, nil
		}
		if job.MediaID == "" {
			return nil, fmt.Errorf("fetch archived media: %w", err)
		}
		log.Warn().Err(err).Str("media_uri", job.MediaURI).Msg("Archived media unavailable, downloading again")
	}

	if w.downloader == nil || job.MediaID == "" {
		return nil, fmt.Errorf("%w: no media source for message %s", ErrPermanent, job.MessageID)
	}
	data, mimeType, err := w.downloader.Download(ctx, job.MediaID)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	if job.MIMEType == "" {
		job.MIMEType = mimeType
	}

	if w.archive != nil && w.objectName != nil {
		name := w.objectName(job.Sender, job.MessageID, job.Filename, job.MIMEType, job.ReceivedAt)
		uri, err := w.archive.Put(ctx, name, data, job.MIMEType)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to archive media")
		} else {
			job.MediaURI = uri
		}
	}
	return data, nil
}
