// Package hookrelay provides a reliable webhook delivery engine for Go.
//
// Internal producers ingest events; hookrelay fans each event out to every
// active subscription of its type and delivers it over HTTP with an
// HMAC-SHA256 signature, retrying failed attempts with exponential backoff.
// Every attempt is written to an append-only delivery log, and the terminal
// failures in that log form the dead letter view that operators retry from.
//
// Key features:
//   - At-least-once delivery backed by a durable job queue
//   - Exponential backoff: 5s, 10s, 20s and 40s between the default 5 attempts
//   - HMAC-SHA256 signature over the exact payload bytes on every request
//   - Idempotent PENDING to DELIVERED transition, driven only by fan-out jobs
//   - Manual retries that never touch event status
//   - Optional JSON Schema validation per event type
//   - Composable store pattern with multiple backends (Postgres, SQLite, Bun, MongoDB, Redis, Memory)
//
// Quick start:
//
//	r, err := hookrelay.New(
//	    hookrelay.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = r.Start(ctx)
//	defer r.Stop(ctx)
//
//	reg, _ := r.Subscriptions().Register(ctx, subscription.Input{
//	    ClientName: "crm",
//	    EventType:  "application.created",
//	    TargetURL:  "https://crm.example.com/hooks",
//	})
//	// Hand reg.Secret to the subscriber so it can verify signatures.
//
//	r.Ingest(ctx, event.Input{
//	    EventType: "application.created",
//	    Payload:   json.RawMessage(`{"candidateId":"c_123"}`),
//	})
package hookrelay
