package tag

import "time"

// autoSyncTimeout bounds how long an auto-sync Read/Write is allowed to
// run before it's treated the same as a caller-driven timeout — an
// auto-sync cycle that never gets a reply must not pile up forever.
const autoSyncTimeout = 5 * time.Second

// startAutoSync spawns the background read/write cadence spec.md §4.5's
// auto_sync_read_ms/auto_sync_write_ms attributes configure: a ticker
// per configured direction, skipping a tick entirely if the tag isn't
// Idle rather than queuing up overlapping operations.
//
// Grounded on yatesdr-warlogix/plcman/manager.go's batchedUpdateLoop
// ticker shape, generalized to up to two independent tickers instead of
// its one.
func (t *Tag) startAutoSync() {
	t.stopAutoSync = make(chan struct{})
	if t.attrs.AutoSyncReadMS > 0 {
		go t.autoSyncLoop(time.Duration(t.attrs.AutoSyncReadMS)*time.Millisecond, t.autoRead)
	}
	if t.attrs.AutoSyncWriteMS > 0 {
		go t.autoSyncLoop(time.Duration(t.attrs.AutoSyncWriteMS)*time.Millisecond, t.autoWrite)
	}
}

func (t *Tag) autoSyncLoop(period time.Duration, tick func()) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopAutoSync:
			return
		case <-ticker.C:
			tick()
		}
	}
}

func (t *Tag) autoRead() {
	if t.State() != StateIdle {
		return
	}
	_ = t.Read(autoSyncTimeout)
}

func (t *Tag) autoWrite() {
	t.mu.Lock()
	ready := t.state == StateIdle && len(t.writeData) > 0
	t.mu.Unlock()
	if !ready {
		return
	}
	_ = t.Write(autoSyncTimeout)
}

// stopAutoSyncLoop signals both auto-sync tickers to exit, if any were
// started. Safe to call even when auto-sync was never configured.
func (t *Tag) stopAutoSyncLoop() {
	if t.stopAutoSync == nil {
		return
	}
	select {
	case <-t.stopAutoSync:
		// already closed
	default:
		close(t.stopAutoSync)
	}
}
