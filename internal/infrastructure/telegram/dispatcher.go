package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/example/qmatic-scheduler/internal/pkg/clock"
)

type DispatcherConfig struct {
	Client *Client
	// Workers is the number of edit workers, default 3.
	Workers int
	// QueueSize bounds pending edits, default 100.
	QueueSize   int
	PollTimeout time.Duration
	// ErrorPause follows a failed getUpdates, PollPause every poll.
	ErrorPause time.Duration
	PollPause  time.Duration
	Logger     *slog.Logger
}

type editTask struct {
	chatID    string
	messageID int64
	body      string
}

// Dispatcher turns "mark used" button presses into message edits. Presses
// are queued and applied by a fixed worker pool.
type Dispatcher struct {
	client      *Client
	workers     int
	queue       chan editTask
	pollTimeout time.Duration
	errorPause  time.Duration
	pollPause   time.Duration
	logger      *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		client:      cfg.Client,
		workers:     cfg.Workers,
		pollTimeout: cfg.PollTimeout,
		errorPause:  cfg.ErrorPause,
		pollPause:   cfg.PollPause,
		logger:      cfg.Logger,
	}
	if d.workers < 1 {
		d.workers = 3
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 100
	}
	d.queue = make(chan editTask, size)
	if d.pollTimeout <= 0 {
		d.pollTimeout = 10 * time.Second
	}
	if d.errorPause <= 0 {
		d.errorPause = 10 * time.Second
	}
	if d.pollPause <= 0 {
		d.pollPause = time.Second
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Run polls for updates until ctx is done. Edits already queued are applied
// before Run returns. A Dispatcher runs once.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(context.WithoutCancel(ctx))
		}()
	}
	d.logger.Info("telegram dispatcher started", "workers", d.workers)

	d.poll(ctx)

	close(d.queue)
	wg.Wait()
	d.logger.Info("telegram dispatcher stopped")
	return nil
}

func (d *Dispatcher) poll(ctx context.Context) {
	var last int64
	for ctx.Err() == nil {
		updates, err := d.client.GetUpdates(ctx, last+1, d.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("get updates failed", "err", err)
			if clock.Sleep(ctx, d.errorPause) != nil {
				return
			}
		}
		for _, u := range updates {
			last = u.UpdateID
			if u.CallbackQuery != nil {
				d.handleCallback(ctx, u.CallbackQuery)
			}
		}
		if clock.Sleep(ctx, d.pollPause) != nil {
			return
		}
	}
}

func (d *Dispatcher) handleCallback(ctx context.Context, cb *CallbackQuery) {
	if cb.Data == markUsedData && cb.Message != nil {
		task := editTask{
			chatID:    strconv.FormatInt(cb.Message.Chat.ID, 10),
			messageID: cb.Message.MessageID,
			body:      bodyOf(cb.Message.Text),
		}
		select {
		case d.queue <- task:
		case <-ctx.Done():
			return
		}
	}
	if err := d.client.AnswerCallbackQuery(ctx, cb.ID); err != nil {
		d.logger.Error("answer callback failed", "callback_id", cb.ID, "err", err)
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for task := range d.queue {
		if err := d.client.EditMessageText(ctx, task.chatID, task.messageID, task.body+usedTrailer); err != nil {
			d.logger.Error("mark visit used failed", "chat_id", task.chatID, "message_id", task.messageID, "err", err)
			continue
		}
		d.logger.Info("visit marked used", "chat_id", task.chatID, "message_id", task.messageID)
	}
}
