// Package playbook manages retention playbook definitions and the trigger
// path that turns a matching member into a queued outbound message. Every
// trigger attempt is recorded as an execution, skips included; business
// outcomes are never errors.
package playbook
