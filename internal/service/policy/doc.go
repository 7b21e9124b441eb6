// Package policy implements the communication policy gate: the pure decision
// logic for whether a member may receive a message on a channel right now.
//
// Every operation here is a pure function of its inputs. Counting sent
// messages, loading opt-out rows, and all other persistence is the caller's
// job; the gate only compares. Business conditions (quiet hours, caps,
// opt-outs) are boolean results, never errors.
package policy
