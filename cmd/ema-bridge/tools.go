package main

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/koscakluka/ema-bridge/core/runtimes"
)

// demoTools is the tool set the example server exposes: an immediate tool, an
// approval-gated mock, and a client-executed tool.
func demoTools() []runtimes.Tool {
	return []runtimes.Tool{
		runtimes.NewTool("get_weather",
			"Get the current weather for a location",
			func(_ context.Context, args struct {
				Location string `json:"location" jsonschema:"description=City or place name"`
			}) (any, error) {
				// Deterministic mock so demos are reproducible.
				h := fnv.New32a()
				h.Write([]byte(args.Location))
				return map[string]any{
					"location":    args.Location,
					"temperature": 8 + int(h.Sum32()%20),
					"conditions":  "partly cloudy",
				}, nil
			}),

		runtimes.NewTool("process_payment",
			"Charge a payment method. Requires operator approval",
			func(_ context.Context, args struct {
				AmountCents int    `json:"amountCents" jsonschema:"description=Amount in cents"`
				Currency    string `json:"currency" jsonschema:"description=ISO 4217 currency code"`
				Recipient   string `json:"recipient" jsonschema:"description=Payee identifier"`
			}) (any, error) {
				if args.AmountCents <= 0 {
					return nil, fmt.Errorf("invalid amount: %d", args.AmountCents)
				}
				return map[string]any{
					"status":    "processed",
					"amount":    args.AmountCents,
					"currency":  args.Currency,
					"recipient": args.Recipient,
				}, nil
			},
			runtimes.WithApproval(),
			runtimes.WithDisplayName("payment"),
		),

		runtimes.NewClientTool[struct {
			Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name"`
		}]("get_local_time",
			"Get the current local time on the user's device"),
	}
}
