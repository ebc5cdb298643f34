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

import "sync"

// Extensions is a per-invocation bag of values shared between the coordinator,
// finders, persisters and id generators.
type Extensions struct {
	mu     sync.Mutex
	values map[string]interface{}
}

// NewExtensions creates an empty bag.
func NewExtensions() *Extensions {
	return &Extensions{values: make(map[string]interface{})}
}

// Set stores value under key.
func (e *Extensions) Set(key string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[key] = value
}

// Get returns the value stored under key.
func (e *Extensions) Get(key string) (interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.values[key]
	return v, ok
}

// GetOrCreate returns the value under key, storing create() first if absent.
func (e *Extensions) GetOrCreate(key string, create func() interface{}) interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.values[key]; ok {
		return v
	}
	v := create()
	e.values[key] = v
	return v
}

const lookupValuesKey = "saga.lookup-values"

// LookupValue is a correlation property resolved while finding a saga.
type LookupValue struct {
	PropertyName  string
	PropertyValue interface{}
}

// LookupValues records resolved correlation properties per entity type so that
// a new instance can reuse the value found during resolution.
type LookupValues struct {
	mu      sync.Mutex
	entries map[string]LookupValue
}

// LookupValuesFrom returns the lookup table of the invocation, creating it on first use.
func LookupValuesFrom(ext *Extensions) *LookupValues {
	return ext.GetOrCreate(lookupValuesKey, func() interface{} {
		return &LookupValues{entries: make(map[string]LookupValue)}
	}).(*LookupValues)
}

// Add records the resolved property for entityType, replacing any earlier entry.
func (l *LookupValues) Add(entityType, propertyName string, value interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entityType] = LookupValue{PropertyName: propertyName, PropertyValue: value}
}

// TryGet returns the property recorded for entityType.
func (l *LookupValues) TryGet(entityType string) (LookupValue, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.entries[entityType]
	return v, ok
}
