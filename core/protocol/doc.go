// Package protocol defines the downstream wire-event contract.
//
// One JSON object is emitted per logical event, over SSE framing or as a
// websocket text frame. Event types are grouped by concern:
//
//   - lifecycle: start, finish, error, and the literal terminal marker
//     [DONE] (not a JSON object) emitted exactly once per turn.
//   - text / reasoning blocks: <kind>-start, <kind>-delta, <kind>-end with a
//     per-block id. Block ids are monotonically increasing per turn and never
//     reused, so a client can disambiguate overlapping blocks.
//   - tool calls: tool-input-start, tool-input-available,
//     tool-output-available, tool-output-error, keyed by toolCallId.
//   - approvals: tool-approval-request carries the original toolCallId and a
//     fresh approvalId; the mirror-image inbound decision references the
//     approvalId.
//   - media: data-pcm, data-audio, file with base64 payloads.
//
// Inbound messages mirror the outbound contract: a user message, a tool
// result keyed by toolCallId, or an approval decision keyed by approvalId.
package protocol
