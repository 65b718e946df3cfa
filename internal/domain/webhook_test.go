// SPDX-License-Identifier: Apache-2.0

package domain

import "testing"

func TestSubscribed(t *testing.T) {
	reg := WebhookRegistration{
		Events: []string{EventTransactionCreated, "budget.exceeded"},
	}

	if !reg.Subscribed(EventTransactionCreated) {
		t.Fatal("expected subscription to transaction.created")
	}
	if !reg.Subscribed("budget.exceeded") {
		t.Fatal("expected subscription to budget.exceeded")
	}
	if reg.Subscribed(EventWebhookTest) {
		t.Fatal("expected no subscription to webhook.test")
	}

	var empty WebhookRegistration
	if empty.Subscribed(EventTransactionCreated) {
		t.Fatal("expected empty event list to match nothing")
	}
}
