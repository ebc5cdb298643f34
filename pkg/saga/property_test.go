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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type propertyEntity struct {
	Data
	OrderID   int       `json:"OrderId"`
	Code      string    `json:"code"`
	Count     uint16    `json:"count"`
	Ratio     float64   `json:"ratio"`
	Enabled   bool      `json:"enabled"`
	Reference uuid.UUID `json:"reference"`
	Tags      []string  `json:"tags"`
	hidden    string
}

func TestReadProperty(t *testing.T) {
	entity := &propertyEntity{Data: Data{ID: "saga-1"}, OrderID: 42, hidden: "x"}

	tests := []struct {
		name     string
		property string
		expected interface{}
	}{
		{name: "field name", property: "OrderID", expected: 42},
		{name: "json tag", property: "OrderId", expected: 42},
		{name: "case insensitive", property: "orderid", expected: 42},
		{name: "embedded field", property: "Id", expected: "saga-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := ReadProperty(entity, tt.property)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, value)
		})
	}

	_, err := ReadProperty(entity, "hidden")
	assert.True(t, IsConfigurationError(err))
	_, err = ReadProperty(nil, "OrderId")
	assert.True(t, IsConfigurationError(err))
	var nilEntity *propertyEntity
	_, err = ReadProperty(nilEntity, "OrderId")
	assert.True(t, IsConfigurationError(err))
}

func TestSetProperty_Conversion(t *testing.T) {
	ref := uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")

	tests := []struct {
		name     string
		property string
		value    interface{}
		check    func(t *testing.T, e *propertyEntity)
	}{
		{name: "assignable int", property: "OrderId", value: 7, check: func(t *testing.T, e *propertyEntity) {
			assert.Equal(t, 7, e.OrderID)
		}},
		{name: "string to int", property: "OrderId", value: "42", check: func(t *testing.T, e *propertyEntity) {
			assert.Equal(t, 42, e.OrderID)
		}},
		{name: "int to string", property: "code", value: 15, check: func(t *testing.T, e *propertyEntity) {
			assert.Equal(t, "15", e.Code)
		}},
		{name: "int64 to uint16", property: "count", value: int64(9), check: func(t *testing.T, e *propertyEntity) {
			assert.Equal(t, uint16(9), e.Count)
		}},
		{name: "string to float", property: "ratio", value: "0.5", check: func(t *testing.T, e *propertyEntity) {
			assert.Equal(t, 0.5, e.Ratio)
		}},
		{name: "string to bool", property: "enabled", value: "true", check: func(t *testing.T, e *propertyEntity) {
			assert.True(t, e.Enabled)
		}},
		{name: "string to text unmarshaler", property: "reference", value: ref.String(), check: func(t *testing.T, e *propertyEntity) {
			assert.Equal(t, ref, e.Reference)
		}},
		{name: "nil resets", property: "code", value: nil, check: func(t *testing.T, e *propertyEntity) {
			assert.Empty(t, e.Code)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entity := &propertyEntity{Code: "before"}
			require.NoError(t, SetProperty(entity, tt.property, tt.value))
			tt.check(t, entity)
		})
	}
}

func TestSetProperty_Errors(t *testing.T) {
	entity := &propertyEntity{}

	assert.True(t, IsConfigurationError(SetProperty(entity, "OrderId", "not a number")))
	assert.True(t, IsConfigurationError(SetProperty(entity, "count", -1)))
	assert.True(t, IsConfigurationError(SetProperty(entity, "tags", 1)))
	assert.True(t, IsConfigurationError(SetProperty(entity, "missing", 1)))
}
