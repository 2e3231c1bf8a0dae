//go:build unix

package transport

import (
	"sync"
	"syscall"
	"time"
)

// processHandle 跟踪子进程的回收状态。
// 进程一旦被回收，PID 可能被系统复用，reaped 置位后
// 任何信号操作都不再执行，避免误伤无关进程。
type processHandle struct {
	mu     sync.Mutex
	pid    int
	reaped bool
	status syscall.WaitStatus
}

func newProcessHandle(pid int) *processHandle {
	return &processHandle{pid: pid}
}

// alive 非阻塞探测进程是否仍在运行，退出则顺带完成回收
func (h *processHandle) alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.reaped {
		return false
	}
	var status syscall.WaitStatus
	wpid, err := syscall.Wait4(h.pid, &status, syscall.WNOHANG, nil)
	if err != nil {
		// ECHILD：已被回收或不属于本进程
		h.reaped = true
		return false
	}
	if wpid == h.pid {
		h.reaped = true
		h.status = status
		return false
	}
	return true
}

// signal 仅在尚未回收时发送信号
func (h *processHandle) signal(sig syscall.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reaped {
		return
	}
	_ = syscall.Kill(h.pid, sig)
}

// waitFinal 阻塞回收，保证不留僵尸进程
func (h *processHandle) waitFinal() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reaped {
		return
	}
	var status syscall.WaitStatus
	wpid, err := syscall.Wait4(h.pid, &status, 0, nil)
	if err == nil && wpid == h.pid {
		h.status = status
	}
	h.reaped = true
}

// terminate 优雅终止：SIGTERM → 宽限轮询 → SIGKILL → 最终回收
func (h *processHandle) terminate(grace time.Duration) {
	if !h.alive() {
		return
	}
	h.signal(syscall.SIGTERM)

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !h.alive() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	h.signal(syscall.SIGKILL)
	h.waitFinal()
}

// exitStatus 返回退出码（未回收时返回 false）
func (h *processHandle) exitStatus() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.reaped {
		return 0, false
	}
	return h.status.ExitStatus(), true
}
