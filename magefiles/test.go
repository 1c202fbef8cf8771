//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Test groups the test targets.
type Test mg.Namespace

// All runs every test. Postgres and mongo tests skip unless their
// environment variables are set; see Backends.
func (Test) All() error {
	return sh.RunV(binGo, "test", "./...")
}

// Unit runs the tests with the race detector and without external services.
func (Test) Unit() error {
	return sh.RunWithV(map[string]string{
		"STOWAGE_TEST_POSTGRES_DSN": "",
		"STOWAGE_TEST_MONGO_URI":    "",
	}, binGo, "test", "-race", "./...")
}

// Backends starts postgres and mongo in containers, runs the backend
// packages against them, and removes the containers.
func (Test) Backends() error {
	rt := containerRuntime()
	if rt == "" {
		return fmt.Errorf("no container runtime found (tried podman, docker)")
	}
	env := map[string]string{}
	for _, s := range backendServices {
		if err := s.start(rt); err != nil {
			return err
		}
		defer s.stop(rt)
		env[s.envVar] = s.url
	}
	// Postgres accepts TCP before it accepts logins.
	time.Sleep(2 * time.Second)
	return sh.RunWithV(env, binGo, "test", "-count=1", "./internal/postgres/...", "./internal/mongodb/...")
}

// Scenario builds the binary and runs the reassign-before-initialize
// scenario in both trigger orders.
func (Test) Scenario() error {
	mg.Deps(Build)
	dir, err := os.MkdirTemp("", "stowage-scenario-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	return sh.RunV(binaryPath(), "--config-dir", dir, "scenario", "--order", "all")
}
