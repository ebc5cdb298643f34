// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package lifecycle

import (
	"strings"

	"github.com/innovationmech/sagakeeper/pkg/saga"
)

// DefaultLegacyVersionPrefix is the protocol version family whose reminders
// carry no reminder flag.
const DefaultLegacyVersionPrefix = "3."

const flagTrue = "True"

// isTimeoutMessage reports whether headers describe a reminder. Legacy
// reminders get the reminder flag set on headers.
func isTimeoutMessage(headers map[string]string, legacyPrefix string) bool {
	if _, ok := headers[saga.HeaderIsTimeout]; ok {
		return true
	}
	if legacyPrefix == "" {
		return false
	}

	version, ok := headers[saga.HeaderVersion]
	if !ok || !strings.HasPrefix(version, legacyPrefix) {
		return false
	}
	if headers[saga.HeaderSagaID] == "" || headers[saga.HeaderExpire] == "" {
		return false
	}

	headers[saga.HeaderIsTimeout] = flagTrue
	return true
}

// removeSagaHeadersIfPublished drops saga headers from published events so
// they are never correlated to the saga that published them.
func removeSagaHeadersIfPublished(headers map[string]string) {
	if intent, ok := headers[saga.HeaderIntent]; ok && strings.EqualFold(intent, saga.IntentPublish) {
		delete(headers, saga.HeaderSagaID)
		delete(headers, saga.HeaderSagaType)
	}
}

// isMessageAllowedToStartTheSaga reports whether the message may create a new
// instance. A message addressed by id to this saga must find it instead.
func isMessageAllowedToStartTheSaga(inv *Invocation, metadata *saga.Metadata) bool {
	if _, hasID := inv.Headers[saga.HeaderSagaID]; hasID {
		if sagaType, ok := inv.Headers[saga.HeaderSagaType]; ok && sagaType == metadata.Name {
			return false
		}
	}
	for _, messageType := range inv.MessageHierarchy {
		if metadata.IsMessageAllowedToStartTheSaga(messageType) {
			return true
		}
	}
	return false
}
