// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package connector

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// MinMlockLimitKB is the minimum mlock limit required to hold the
// connector token in locked memory.
const MinMlockLimitKB = 64

var (
	// memguardInitOnce ensures memguard initialization happens only once.
	memguardInitOnce sync.Once

	// mlockSufficient is set during initialization to indicate if secure
	// memory is available.
	mlockSufficient bool

	// currentMlockLimitKB stores the current mlock limit for logging.
	currentMlockLimitKB int64
)

// CredentialStore holds the connector's bearer token.
//
// # Description
//
// The token authorizes infrastructure mutations, so it is kept in
// mlocked memory (memguard) to prevent it from being swapped to disk.
// On systems without sufficient mlock limits, setting
// ALEUTIANOPS_INSECURE_MEMORY=true permits a plain-memory fallback.
//
// # Thread Safety
//
// Safe for concurrent use after construction.
type CredentialStore struct {
	secure   *memguard.LockedBuffer
	insecure []byte

	mu        sync.Mutex
	destroyed bool
}

// NewCredentialStore stores the token in locked memory. The input
// slice is wiped.
//
// # Inputs
//
//   - token: The connector bearer token. Wiped before returning.
//
// # Outputs
//
//   - *CredentialStore: The store.
//   - error: Non-nil if the token is empty or secure memory is
//     unavailable without the insecure override.
func NewCredentialStore(token []byte) (*CredentialStore, error) {
	if len(token) == 0 {
		return nil, fmt.Errorf("connector token is empty")
	}

	initMemguard()

	if !mlockSufficient {
		if os.Getenv("ALEUTIANOPS_INSECURE_MEMORY") != "true" {
			wipe(token)
			return nil, fmt.Errorf(
				"mlock limit insufficient: have %d KB, need %d KB. "+
					"Configure system limits or set ALEUTIANOPS_INSECURE_MEMORY=true",
				currentMlockLimitKB, MinMlockLimitKB,
			)
		}
		slog.Warn("SECURITY: storing connector token in unlocked memory",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
		)
		stored := make([]byte, len(token))
		copy(stored, token)
		wipe(token)
		return &CredentialStore{insecure: stored}, nil
	}

	// NewBufferFromBytes wipes the source slice.
	buffer := memguard.NewBufferFromBytes(token)
	return &CredentialStore{secure: buffer}, nil
}

// Authorize sets the Authorization header on an outgoing request.
func (c *CredentialStore) Authorize(req *http.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return fmt.Errorf("credential store already destroyed")
	}

	var token []byte
	if c.secure != nil {
		token = c.secure.Bytes()
	} else {
		token = c.insecure
	}
	req.Header.Set("Authorization", "Bearer "+string(token))
	return nil
}

// Destroy wipes the stored token. Safe to call multiple times.
func (c *CredentialStore) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return
	}
	if c.secure != nil {
		c.secure.Destroy()
	}
	wipe(c.insecure)
	c.insecure = nil
	c.destroyed = true
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// initMemguard initializes memguard and checks mlock limits once.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure memory initialized",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
		}
	})
}

// checkMlockLimit queries the kernel for the mlock resource limit.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// PurgeSecureMemory wipes all memguard-allocated memory. Called during
// graceful shutdown.
func PurgeSecureMemory() {
	memguard.Purge()
}
