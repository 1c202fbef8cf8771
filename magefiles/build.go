//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for the stowage project using Mage.
//
// Usage:
//
//	mage build           Compile the stowage binary to bin/
//	mage test:all        Run every test
//	mage test:unit       Run tests that need no external services
//	mage test:backends   Start postgres and mongo containers and run their tests
//	mage test:scenario   Build and run the reassign-before-initialize scenario
//	mage lint            Check formatting and run golangci-lint
//	mage clean           Remove build artifacts
//	mage install         Install stowage to GOPATH/bin
//	mage stats           Print Go LOC and documentation word counts
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "stowage"
	binaryDir  = "bin"
	cmdDir     = "./cmd/stowage"
)

// Build compiles the stowage binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-o", binaryPath(), cmdDir)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	return sh.Copy(filepath.Join(gopath, "bin", binaryName), binaryPath())
}

func binaryPath() string {
	return filepath.Join(binaryDir, binaryName)
}
