package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"

	"bitbucket.org/flowshare/allocation_backend/config"
	"bitbucket.org/flowshare/allocation_backend/utils"
)

// runReconciliationAgent consumes the trigger subscription in pull mode.
// Deployments behind a push subscription use the /pubsub endpoint instead;
// this worker exists for environments without an HTTPS push target.
func runReconciliationAgent(ctx context.Context, logger *logrus.Logger) {
	client, err := config.GetClient(ctx)
	if err != nil {
		config.LogError(logger, "reconciliationAgent.go", "runReconciliationAgent", "pubsub client", nil, err)
		return
	}

	topic, err := config.CreateTopicIfNotExists(client, config.TriggerTopicName())
	if err != nil {
		config.LogError(logger, "reconciliationAgent.go", "runReconciliationAgent", "create topic", config.TriggerTopicName(), err)
		return
	}
	// Redelivery policy lives here, not in the orchestrator.
	sub, err := config.CreateSubscriptionIfNotExists(client, config.TriggerSubscriptionName(), topic, &pubsub.RetryPolicy{
		MinimumBackoff: 10 * time.Second,
		MaximumBackoff: 10 * time.Minute,
	})
	if err != nil {
		config.LogError(logger, "reconciliationAgent.go", "runReconciliationAgent", "create subscription", config.TriggerSubscriptionName(), err)
		return
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	callback := func(ctx context.Context, msg *pubsub.Message) {
		m := config.ReconciliationMessage{}
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			config.LogError(logger, "reconciliationAgent.go", "runReconciliationAgent", "Unmarshaling pubsub message", msg.Data, err)
			// Poisoned payload: ack so it does not loop forever.
			msg.Ack()
			return
		}
		if m.TenantId == "" || m.RunId == "" {
			config.LogError(logger, "reconciliationAgent.go", "runReconciliationAgent", "Invalid pubsub message (missing required fields)", m, fmt.Errorf("run_id/tenant_id required"))
			msg.Ack()
			return
		}

		correlationID := m.CorrelationId
		if correlationID == "" {
			correlationID = msg.ID
		}

		ctx = utils.SetTenantIdInContext(ctx, m.TenantId)
		ctx = utils.SetRunIdInContext(ctx, m.RunId)
		ctx = utils.SetCorrelationIdInContext(ctx, correlationID)

		outcome, runErr := newOrchestrator(logger).Run(ctx, m.TenantId, m.RunId, correlationID)
		if runErr != nil {
			logger.WithFields(logrus.Fields{
				"field":          "reconciliationAgent",
				"tenant_id":      m.TenantId,
				"run_id":         m.RunId,
				"message_id":     msg.ID,
				"correlation_id": correlationID,
				"failure":        string(outcome.Failure),
			}).Error("pubsub processing failed: " + runErr.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	if err := sub.Receive(ctx, callback); err != nil && ctx.Err() == nil {
		config.LogError(logger, "reconciliationAgent.go", "runReconciliationAgent", "Failed to receive messages", nil, err)
	}
}
