// Package broadcast implements the process-wide fan-out channel.
//
// A Channel is a bounded ring buffer with one cursor per Subscription. Publishing never waits on
// subscribers; a subscriber that falls more than the capacity behind loses its oldest unread
// messages and is told how many it skipped on its next Recv.
package broadcast
