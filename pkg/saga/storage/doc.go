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

// Package storage is a file-based saga persistence engine meant for local
// development and reference use.
//
// Every saga instance is one JSON file at
//
//	<root>/<saga type>/<instance id>.json
//
// A file exists exactly as long as the instance is not completed.
//
// # Units of work
//
// Changes are not written immediately. A Session collects deferred create,
// overwrite and complete actions while a message is handled and applies them
// in order on Commit. Files opened during the session stay exclusively held
// by it until Close, which also deletes the files of completed instances:
//
//	err := storage.WithSession(ctx, persister, func(session *storage.Session) error {
//	    _, err := coordinator.Invoke(ctx, invocation(session), handler)
//	    return err
//	})
//
// # Concurrency
//
// Creation uses exclusive file creation, so at most one creator wins for a
// given id. A creator that collides waits ConflictRetryDelay and tries once
// more before failing with ErrConcurrentCreate. Within one process a file is
// held by at most one handle. Concurrent overwrites from different processes
// are last-writer-wins.
package storage
