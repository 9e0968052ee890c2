// Copyright (c) 2019 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package file implements topology source reading virtual services and their
// endpoints from a YAML file. The file is re-read periodically and every
// change of its content is delivered as a complete resync.
package file

import (
	"bytes"
	"context"
	"io/ioutil"
	"time"

	"github.com/ghodss/yaml"
	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/contiv/svcroute/plugins/router/topology"
)

// Deps lists dependencies of the file source.
type Deps struct {
	Log   logging.Logger
	Clock clock.Clock /* optional */
}

// Source is a topology source backed by a YAML file.
type Source struct {
	Deps

	path           string
	reloadInterval time.Duration

	// generation of the file content, used as version of all resources
	generation uint64
	content    []byte
}

// NewSource is a constructor for Source.
func NewSource(deps Deps, path string, reloadInterval time.Duration) *Source {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	return &Source{
		Deps:           deps,
		path:           path,
		reloadInterval: reloadInterval,
	}
}

// String returns the name of the source.
func (s *Source) String() string {
	return "file:" + s.path
}

// Watch delivers the content of the file as a resync, and then resyncs again
// whenever the content changes. Failure to read or parse the file breaks
// the watch; the last successfully loaded content stays in effect.
func (s *Source) Watch(ctx context.Context, handler topology.EventHandler) error {
	// first load after (re)connect is always resynced
	s.content = nil
	for {
		if err := s.reload(handler); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.Clock.After(s.reloadInterval):
		}
	}
}

func (s *Source) reload(handler topology.EventHandler) error {
	content, err := ioutil.ReadFile(s.path)
	if err != nil {
		return errors.Wrap(err, "failed to read topology file")
	}
	if s.content != nil && bytes.Equal(content, s.content) {
		return nil
	}

	var topo Topology
	if err := yaml.Unmarshal(content, &topo); err != nil {
		return errors.Wrapf(err, "failed to parse topology file %s", s.path)
	}
	events, err := topo.toEvents(s.generation + 1)
	if err != nil {
		return errors.Wrapf(err, "invalid topology file %s", s.path)
	}
	if err := handler.Resync(events); err != nil {
		return err
	}
	s.generation++
	s.content = content
	s.Log.WithFields(logging.Fields{
		"file":       s.path,
		"services":   len(topo.Services),
		"generation": s.generation,
	}).Info("Topology file loaded")
	return nil
}
