package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// ReconciliationMessage is the payload exchanged on both the trigger and the
// completion topics. EventType distinguishes the two.
type ReconciliationMessage struct {
	RunId         string `json:"run_id"`
	TenantId      string `json:"tenant_id"`
	EventType     string `json:"event_type"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

const (
	EventTypeReconciliationTriggered = "reconciliation_triggered"
	EventTypeReconciliationComplete  = "reconciliation_complete"
)

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

// GetClient returns a Pub/Sub client, initializing with retries if needed.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetClient(ctx context.Context) (*pubsub.Client, error) {
	return getPubSubClient(ctx)
}

func getPubSubProjectID() string {
	// Prefer explicit override.
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	// Cloud Run/Cloud Functions often set this.
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	// Common fallback.
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

// TriggerTopicName is the topic the API publishes to and the accountant worker
// consumes from.
func TriggerTopicName() string {
	if v := os.Getenv("PUBSUB_RECONCILIATION_TRIGGER_TOPIC"); v != "" {
		return v
	}
	return "reconciliation-triggered"
}

// CompleteTopicName is the best-effort completion topic consumed by the
// communicator service.
func CompleteTopicName() string {
	if v := os.Getenv("PUBSUB_RECONCILIATION_COMPLETE_TOPIC"); v != "" {
		return v
	}
	return "reconciliation-complete"
}

func TriggerSubscriptionName() string {
	if v := os.Getenv("PUBSUB_RECONCILIATION_TRIGGER_SUBSCRIPTION"); v != "" {
		return v
	}
	return TriggerTopicName() + "-sub"
}

func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	if pubsubClient != nil {
		c := pubsubClient
		pubsubClientMu.Unlock()
		return c, nil
	}
	pubsubClientMu.Unlock()

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")

	var attempt int
	for {
		attempt++

		var (
			c   *pubsub.Client
			err error
		)
		if credJSON != "" {
			c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
		} else {
			// Uses Application Default Credentials (Cloud Run service account or GOOGLE_APPLICATION_CREDENTIALS).
			c, err = pubsub.NewClient(ctx, projectID)
		}
		if err == nil {
			pubsubClientMu.Lock()
			if pubsubClient == nil {
				pubsubClient = c
			} else {
				// Another goroutine won the race; close ours.
				_ = c.Close()
			}
			c2 := pubsubClient
			pubsubClientMu.Unlock()

			log.Printf("pubsub client ready (project_id=%s attempt=%d)", projectID, attempt)
			return c2, nil
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to init pubsub client (project_id=%s attempt=%d): %v; retrying in %s", projectID, attempt, err, sleep)
		time.Sleep(sleep)
	}
}

func CreateTopicIfNotExists(c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	ctx := context.Background()
	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

// CreateSubscriptionIfNotExists provisions the worker subscription. The retry
// policy lives here, on the messaging layer, not in the orchestrator: the core
// only reports success/failure and the subscription decides redelivery pacing.
func CreateSubscriptionIfNotExists(client *pubsub.Client, name string, topic *pubsub.Topic, retry *pubsub.RetryPolicy) (*pubsub.Subscription, error) {
	if client == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if name == "" {
		return nil, errors.New("subscription name is required")
	}
	if topic == nil {
		return nil, errors.New("topic is required")
	}

	ctx := context.Background()
	sub := client.Subscription(name)
	subExists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription exists: %w", err)
	}
	if !subExists {
		sub, err = client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 20 * time.Second,
			RetryPolicy: retry,
		})
		if err != nil {
			return nil, fmt.Errorf("create subscription %q: %w", name, err)
		}
	}
	return sub, nil
}

// PublishReconciliationTriggered publishes a trigger message and returns the
// Pub/Sub server-assigned message ID.
func PublishReconciliationTriggered(ctx context.Context, runId, tenantId, correlationId string) (string, error) {
	return publishReconciliationEvent(ctx, TriggerTopicName(), ReconciliationMessage{
		RunId:         runId,
		TenantId:      tenantId,
		EventType:     EventTypeReconciliationTriggered,
		CorrelationId: correlationId,
	})
}

// PublishReconciliationComplete publishes a completion notification.
// Best-effort: the caller decides how to treat a publish failure.
func PublishReconciliationComplete(ctx context.Context, runId, tenantId, correlationId string) (string, error) {
	return publishReconciliationEvent(ctx, CompleteTopicName(), ReconciliationMessage{
		RunId:         runId,
		TenantId:      tenantId,
		EventType:     EventTypeReconciliationComplete,
		CorrelationId: correlationId,
	})
}

func publishReconciliationEvent(ctx context.Context, topicName string, msg ReconciliationMessage) (string, error) {
	client, err := getPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	t := client.Topic(topicName)
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := t.Publish(ctx, &pubsub.Message{
		Data: msgJSON,
	})

	id, err := result.Get(ctx)
	return id, err
}
