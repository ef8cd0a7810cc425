package tasks

import (
	"testing"
	"time"

	"cryptopay_app/internal/models"
)

func TestBuildScheduledTask(t *testing.T) {
	due := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	rule := "FREQ=DAILY"

	task, err := BuildScheduledTask(
		"cleanup_cache",
		map[string]interface{}{"reason": "nightly"},
		due,
		&rule,
		models.ScheduledTaskTypeRecurring,
		3,
	)
	if err != nil {
		t.Fatalf("BuildScheduledTask failed: %v", err)
	}

	if task.TaskName != "cleanup_cache" {
		t.Errorf("TaskName = %q; want cleanup_cache", task.TaskName)
	}
	if task.Arguments["reason"] != "nightly" {
		t.Errorf("Arguments = %v; want reason=nightly", task.Arguments)
	}
	if !task.Due.Equal(due) {
		t.Errorf("Due = %v; want %v", task.Due, due)
	}
	if task.Status != models.ScheduledTaskStatusActive {
		t.Errorf("Status = %q; want active", task.Status)
	}
	if task.TaskType != models.ScheduledTaskTypeRecurring {
		t.Errorf("TaskType = %q; want recurring", task.TaskType)
	}
	if task.MaxAttempt != 3 {
		t.Errorf("MaxAttempt = %d; want 3", task.MaxAttempt)
	}
}

func TestBuildScheduledTaskStructArgs(t *testing.T) {
	type invoiceArgs struct {
		SubscriptionID uint `json:"subscription_id"`
	}

	task, err := BuildScheduledTask(
		"generate_subscription_invoices",
		invoiceArgs{SubscriptionID: 7},
		time.Now(),
		nil,
		models.ScheduledTaskTypeOneTime,
		1,
	)
	if err != nil {
		t.Fatalf("BuildScheduledTask failed: %v", err)
	}

	// JSON round-trip turns numbers into float64
	if task.Arguments["subscription_id"] != float64(7) {
		t.Errorf("Arguments = %v; want subscription_id=7", task.Arguments)
	}
}

func TestBuildScheduledTaskRejectsUnmarshalableArgs(t *testing.T) {
	_, err := BuildScheduledTask(
		"log_info",
		make(chan int),
		time.Now(),
		nil,
		models.ScheduledTaskTypeOneTime,
		1,
	)
	if err == nil {
		t.Error("expected an error for unmarshalable arguments")
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	DefineTasks()

	for _, name := range []string{"log_info", "cleanup_cache", "generate_subscription_invoices"} {
		if _, ok := GetHandler(name); !ok {
			t.Errorf("handler %q not registered", name)
		}
	}

	if _, ok := GetHandler("does_not_exist"); ok {
		t.Error("unexpected handler for unknown task name")
	}
}
