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

package saga

import (
	"fmt"

	"github.com/google/uuid"
)

// idNamespace scopes name-based saga ids.
var idNamespace = uuid.NameSpaceOID

// DeterministicID derives a stable instance id from a saga type and a
// correlation value: the same pair always yields the same id.
func DeterministicID(sagaType string, value interface{}) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s_%v", sagaType, value))).String()
}

// NewTimeoutID returns a new, time-ordered timeout id.
func NewTimeoutID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// DeterministicIDGenerator derives ids from the saga type and correlation
// property. Sagas without a correlation property get a time-ordered random id.
type DeterministicIDGenerator struct{}

// Generate implements IDGenerator.
func (DeterministicIDGenerator) Generate(ctx IDGeneratorContext) (string, error) {
	if ctx.Metadata == nil {
		return "", NewConfigurationError("id generation requires saga metadata")
	}
	if ctx.CorrelationProperty.IsNone() || ctx.CorrelationProperty.Value == nil {
		id, err := uuid.NewV7()
		if err != nil {
			return "", err
		}
		return id.String(), nil
	}
	return DeterministicID(ctx.Metadata.Name, ctx.CorrelationProperty.Value), nil
}
