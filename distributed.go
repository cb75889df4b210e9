package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultQueueName = "email_extraction"

// seedTask is the wire format for one queued seed URL.
type seedTask struct {
	SeedURL  string    `json:"seed_url"`
	TaskID   string    `json:"task_id"`
	WorkerID string    `json:"worker_id"`
	Created  time.Time `json:"created"`
}

type seedOutcome struct {
	SeedURL  string    `json:"seed_url"`
	TaskID   string    `json:"task_id"`
	WorkerID string    `json:"worker_id"`
	Emails   []string  `json:"emails"`
	Finished time.Time `json:"finished"`
}

// DistributedQueue spreads a seed list across multiple worker processes
// through a Redis list. Producers LPush tasks, workers BRPop them and crawl
// with the same orchestrator the local path uses; outcomes go to a sibling
// results list.
type DistributedQueue struct {
	client    *redis.Client
	workerID  string
	queueName string
}

func NewDistributedQueue(redisURL, workerID, queueName string) (*DistributedQueue, error) {
	if queueName == "" {
		queueName = defaultQueueName
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	log.Printf("distributed mode connected (redis: %s, worker: %s, queue: %s)", opts.Addr, workerID, queueName)
	return &DistributedQueue{client: client, workerID: workerID, queueName: queueName}, nil
}

func (q *DistributedQueue) resultsQueue() string {
	return q.queueName + ":results"
}

// EnqueueSeeds pushes every seed URL onto the work queue.
func (q *DistributedQueue) EnqueueSeeds(ctx context.Context, seedURLs []string) error {
	for _, seed := range seedURLs {
		task := seedTask{
			SeedURL:  seed,
			TaskID:   fmt.Sprintf("%s-%d", q.workerID, time.Now().UnixNano()),
			WorkerID: q.workerID,
			Created:  time.Now(),
		}
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		if err := q.client.LPush(ctx, q.queueName, data).Err(); err != nil {
			return fmt.Errorf("enqueue failed: %w", err)
		}
	}
	log.Printf("enqueued %d seed urls to %s", len(seedURLs), q.queueName)
	return nil
}

// RunWorker consumes tasks until ctx is cancelled. Each task runs through
// the orchestrator; a task whose crawl is interrupted by cancellation is
// pushed back for another worker.
func (q *DistributedQueue) RunWorker(ctx context.Context, orchestrator *CrawlOrchestrator) error {
	log.Printf("distributed worker %s consuming %s", q.workerID, q.queueName)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		vals, err := q.client.BRPop(ctx, 5*time.Second, q.queueName).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("worker %s: queue read failed: %v", q.workerID, err)
			time.Sleep(2 * time.Second)
			continue
		}
		var task seedTask
		if err := json.Unmarshal([]byte(vals[1]), &task); err != nil {
			log.Printf("worker %s: dropping malformed task: %v", q.workerID, err)
			continue
		}

		emails, err := orchestrator.Process(ctx, task.SeedURL)
		if err != nil {
			// Interrupted mid-crawl; requeue so the seed is not lost.
			if data, mErr := json.Marshal(task); mErr == nil {
				q.client.LPush(context.Background(), q.queueName, data)
			}
			return err
		}

		outcome := seedOutcome{
			SeedURL:  task.SeedURL,
			TaskID:   task.TaskID,
			WorkerID: q.workerID,
			Emails:   emails,
			Finished: time.Now(),
		}
		data, err := json.Marshal(outcome)
		if err != nil {
			continue
		}
		if err := q.client.LPush(ctx, q.resultsQueue(), data).Err(); err != nil {
			log.Printf("worker %s: result push failed for %s: %v", q.workerID, task.SeedURL, err)
		}
		log.Printf("worker %s: %s done (%d emails)", q.workerID, task.SeedURL, len(emails))
	}
}

// Close releases the Redis connection.
func (q *DistributedQueue) Close() error {
	return q.client.Close()
}
