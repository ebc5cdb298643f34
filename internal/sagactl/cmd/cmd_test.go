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

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"

	"github.com/innovationmech/sagakeeper/internal/sagactl/cmd/deferred"
	"github.com/innovationmech/sagakeeper/internal/sagactl/env"
	"github.com/innovationmech/sagakeeper/pkg/config/testutil"
	"github.com/innovationmech/sagakeeper/pkg/saga"
	"github.com/innovationmech/sagakeeper/pkg/saga/scheduler"
	"github.com/innovationmech/sagakeeper/pkg/saga/storage"
)

type loanData struct {
	saga.Data
	LoanID string `json:"LoanId"`
}

// CmdTestSuite runs sagactl against a store seeded in a temporary directory.
type CmdTestSuite struct {
	suite.Suite
	workDir string
	root    string
}

func TestCmdTestSuite(t *testing.T) {
	suite.Run(t, new(CmdTestSuite))
}

func (s *CmdTestSuite) SetupTest() {
	s.workDir = testutil.NewWorkspace(s.T()).Dir
	s.root = filepath.Join(s.workDir, "sagas")

	registry, err := saga.NewRegistry(&saga.Metadata{
		Name:                "LoanSaga",
		NewEntity:           func() saga.Entity { return &loanData{} },
		CorrelationProperty: "LoanId",
		TimeoutTypes:        []string{"LoanTimeout"},
	})
	s.Require().NoError(err)
	persister, err := storage.Open(s.root, registry, storage.DefaultOptions())
	s.Require().NoError(err)

	for _, id := range []string{"loan-2", "loan-1"} {
		instance := saga.NewInstance(id, "LoanSaga")
		instance.Entity = &loanData{Data: saga.Data{ID: id}, LoanID: "L-" + id}
		instance.Timeouts = []saga.Timeout{{ID: "t-" + id, Type: "LoanTimeout"}}
		s.Require().NoError(storage.WithSession(context.Background(), persister, func(session *storage.Session) error {
			return session.Save(instance)
		}))
	}
}

func (s *CmdTestSuite) run(args ...string) (string, error) {
	e := env.New()
	out := &bytes.Buffer{}
	e.Out = out

	root := NewRootSagaCtlCommand(e)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(append([]string{"--workdir", s.workDir, "--root", s.root}, args...))
	err := root.Execute()
	return out.String(), err
}

func (s *CmdTestSuite) TestRootCommand_BasicProperties() {
	cmd := NewRootSagaCtlCommand(env.New())

	assert.Equal(s.T(), "sagactl", cmd.Use)
	for _, name := range []string{"config", "output", "root", "env", "workdir", "verbose"} {
		assert.NotNil(s.T(), cmd.PersistentFlags().Lookup(name), name)
	}

	names := make([]string, 0)
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(s.T(), names, []string{"types", "list", "show", "purge", "deferred", "config", "version"})
}

func (s *CmdTestSuite) TestTypes() {
	out, err := s.run("types")
	s.Require().NoError(err)

	var types []string
	s.Require().NoError(yaml.Unmarshal([]byte(out), &types))
	assert.Equal(s.T(), []string{"LoanSaga"}, types)
}

func (s *CmdTestSuite) TestList() {
	out, err := s.run("list", "LoanSaga", "--output", "json")
	s.Require().NoError(err)

	var summaries []map[string]interface{}
	s.Require().NoError(json.Unmarshal([]byte(out), &summaries))
	s.Require().Len(summaries, 2)
	assert.Equal(s.T(), "loan-1", summaries[0]["id"])
	assert.Equal(s.T(), "loan-2", summaries[1]["id"])
	assert.Equal(s.T(), float64(1), summaries[0]["pending_timeouts"])
}

func (s *CmdTestSuite) TestShow() {
	out, err := s.run("show", "LoanSaga", "loan-1")
	s.Require().NoError(err)
	assert.Contains(s.T(), out, "id: loan-1")
	assert.Contains(s.T(), out, "LoanId: L-loan-1")

	_, err = s.run("show", "LoanSaga", "missing")
	assert.Error(s.T(), err)

	_, err = s.run("show", "LoanSaga", "loan-1", "--output", "toml")
	assert.ErrorContains(s.T(), err, "unsupported output format")
}

func (s *CmdTestSuite) TestPurge() {
	_, err := s.run("purge", "LoanSaga", "loan-1")
	assert.ErrorContains(s.T(), err, "--yes")

	out, err := s.run("purge", "LoanSaga", "loan-1", "--yes")
	s.Require().NoError(err)
	assert.Contains(s.T(), out, "purged LoanSaga/loan-1")
	assert.NoFileExists(s.T(), filepath.Join(s.root, "LoanSaga", "loan-1.json"))

	out, err = s.run("purge", "LoanSaga", "loan-1", "-y")
	s.Require().NoError(err)
	assert.Contains(s.T(), out, "is not stored")
}

func (s *CmdTestSuite) TestConfigShowAndInit() {
	out, err := s.run("config", "show")
	s.Require().NoError(err)
	assert.Contains(s.T(), out, "root: "+s.root)

	target := filepath.Join(s.workDir, "generated.yaml")
	_, err = s.run("config", "init", target)
	s.Require().NoError(err)
	content, err := os.ReadFile(target)
	s.Require().NoError(err)
	assert.Contains(s.T(), string(content), "conflict_retry_delay: 100ms")

	_, err = s.run("config", "init", target)
	assert.ErrorContains(s.T(), err, "already exists")
	_, err = s.run("config", "init", target, "--force")
	assert.NoError(s.T(), err)
}

func (s *CmdTestSuite) TestInvalidConfiguration() {
	s.Require().NoError(os.WriteFile(filepath.Join(s.workDir, "sagakeeper.yaml"), []byte("log:\n  level: chatty\n"), 0o644))

	_, err := s.run("types")
	assert.ErrorContains(s.T(), err, "invalid settings")
}

func (s *CmdTestSuite) TestVersion() {
	out, err := s.run("version")
	s.Require().NoError(err)
	assert.Contains(s.T(), out, "version: dev")
}

func (s *CmdTestSuite) TestDeferred() {
	_, err := s.run("deferred", "pending")
	assert.ErrorIs(s.T(), err, deferred.ErrSchedulerDisabled)

	mr := miniredis.RunT(s.T())
	s.Require().NoError(os.WriteFile(filepath.Join(s.workDir, "sagakeeper.yaml"),
		[]byte(fmt.Sprintf("scheduler:\n  redis:\n    addr: %s\n    key_prefix: \"cli:\"\n", mr.Addr())), 0o644))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	seed := scheduler.NewRedisScheduler(client, scheduler.Options{KeyPrefix: "cli:", Endpoint: "loans"})
	options := saga.SendOptions{MessageType: "LoanTimeout", RouteToThisEndpoint: true, Delay: time.Hour}
	options.SetHeader(saga.HeaderSagaID, "loan-1")
	s.Require().NoError(seed.Send(context.Background(), struct{}{}, options))

	out, err := s.run("deferred", "pending", "-o", "json")
	s.Require().NoError(err)
	assert.JSONEq(s.T(), `{"pending":1}`, out)

	_, err = s.run("deferred", "cancel", "loan-1")
	s.Require().NoError(err)

	pending, err := seed.Pending(context.Background())
	s.Require().NoError(err)
	assert.Zero(s.T(), pending)
}

func TestRenderFormats(t *testing.T) {
	e := env.New()
	out := &bytes.Buffer{}
	e.Out = out

	require.NoError(t, e.Render(map[string]int{"a": 1}))
	assert.Equal(t, "a: 1\n", out.String())

	out.Reset()
	e.Output = env.OutputJSON
	require.NoError(t, e.Render(map[string]int{"a": 1}))
	assert.JSONEq(t, `{"a":1}`, out.String())
}
