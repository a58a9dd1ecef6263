// Package ttsjobs offloads text-to-speech requests to a durable asynq queue
// backed by redis. Speaking through the queue decouples the command handler
// from TTS worker availability: the job is consumed once the worker is
// healthy again, with asynq handling retries and retention.
package ttsjobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// TaskTypeSpeak is the asynq task type for one TTS utterance.
	TaskTypeSpeak = "tts:speak"
	// queueName isolates TTS jobs from any other asynq traffic on the instance.
	queueName = "tts"
)

// Payload is the durable record of one speech request.
type Payload struct {
	JobID     string `json:"job_id"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
}

// Queue enqueues speech jobs. It satisfies the coordinator's TTSQueue
// interface.
type Queue struct {
	client *asynq.Client
}

// NewQueue creates a Queue over the given redis address.
func NewQueue(redisAddr, redisPassword string, redisDB int) *Queue {
	return &Queue{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: redisPassword,
			DB:       redisDB,
		}),
	}
}

// Enqueue persists one speech request.
func (q *Queue) Enqueue(ctx context.Context, guildID, channelID, userID, text, voice string) error {
	payload, err := json.Marshal(Payload{
		JobID:     uuid.NewString(),
		GuildID:   guildID,
		ChannelID: channelID,
		UserID:    userID,
		Text:      text,
		Voice:     voice,
	})
	if err != nil {
		return fmt.Errorf("marshal tts job: %w", err)
	}
	task := asynq.NewTask(TaskTypeSpeak, payload)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
		asynq.Retention(time.Hour),
	)
	if err != nil {
		return fmt.Errorf("enqueue tts job: %w", err)
	}
	return nil
}

// Close releases the underlying asynq client.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Speaker replays a queued job; the coordinator's direct TTS path implements it.
type Speaker interface {
	Speak(ctx context.Context, guildID, channelID, userID, text, voice string) error
}

// Worker consumes the TTS queue and drives the speaker.
type Worker struct {
	srv *asynq.Server
	sp  Speaker
}

// NewWorker builds the queue consumer.
func NewWorker(redisAddr, redisPassword string, redisDB int, sp Speaker) *Worker {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword, DB: redisDB},
		asynq.Config{
			Concurrency: 2,
			Queues:      map[string]int{queueName: 1},
		},
	)
	return &Worker{srv: srv, sp: sp}
}

// Run processes jobs until Shutdown is called. Blocks; call from a goroutine.
func (w *Worker) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeSpeak, w.handleSpeak)
	return w.srv.Run(mux)
}

// Shutdown stops the consumer, waiting for in-flight jobs.
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

func (w *Worker) handleSpeak(ctx context.Context, task *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		// malformed payloads will never succeed; drop instead of retrying
		log.Printf("[ERR] [TTSJobs] Dropping malformed job: %v", err)
		return nil
	}
	if err := w.sp.Speak(ctx, p.GuildID, p.ChannelID, p.UserID, p.Text, p.Voice); err != nil {
		return fmt.Errorf("speak job %s: %w", p.JobID, err)
	}
	return nil
}
