// create-pubsub-topics provisions the reconciliation topics and the worker
// subscription. Run once per project before deploying the backend.
//
// Usage:
//   GOOGLE_PROJECT_ID=... go run ./cmd/create-pubsub-topics
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"

	"bitbucket.org/flowshare/allocation_backend/config"
)

func main() {
	ctx := context.Background()

	client, err := config.GetClient(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pubsub client: %v\n", err)
		os.Exit(1)
	}

	triggerTopic, err := config.CreateTopicIfNotExists(client, config.TriggerTopicName())
	if err != nil {
		fmt.Fprintf(os.Stderr, "create topic %s: %v\n", config.TriggerTopicName(), err)
		os.Exit(1)
	}
	fmt.Printf("topic ready: %s\n", config.TriggerTopicName())

	if _, err := config.CreateTopicIfNotExists(client, config.CompleteTopicName()); err != nil {
		fmt.Fprintf(os.Stderr, "create topic %s: %v\n", config.CompleteTopicName(), err)
		os.Exit(1)
	}
	fmt.Printf("topic ready: %s\n", config.CompleteTopicName())

	// Bounded redelivery with backoff is configured here; the worker itself
	// only reports success or failure per message.
	retry := &pubsub.RetryPolicy{
		MinimumBackoff: 10 * time.Second,
		MaximumBackoff: 10 * time.Minute,
	}
	if _, err := config.CreateSubscriptionIfNotExists(client, config.TriggerSubscriptionName(), triggerTopic, retry); err != nil {
		fmt.Fprintf(os.Stderr, "create subscription %s: %v\n", config.TriggerSubscriptionName(), err)
		os.Exit(1)
	}
	fmt.Printf("subscription ready: %s\n", config.TriggerSubscriptionName())
}
