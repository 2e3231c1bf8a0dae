//go:build unix

package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/mcpwire/protocol"
	"github.com/BaSui01/mcpwire/security"
)

// DefaultInheritedEnvVars 默认继承给子进程的环境变量允许列表
var DefaultInheritedEnvVars = []string{
	"HOME", "LOGNAME", "PATH", "SHELL", "TERM", "USER",
}

// blockedEnvVars 无条件剥离的变量：可劫持动态链接，配置也无法覆盖
var blockedEnvVars = []string{
	"LD_PRELOAD", "LD_LIBRARY_PATH", "LD_AUDIT",
	"DYLD_INSERT_LIBRARIES", "DYLD_LIBRARY_PATH", "DYLD_FRAMEWORK_PATH",
}

// ProcessConfig 子进程传输配置
type ProcessConfig struct {
	// 可执行文件路径或裸命令名（裸名按 PATH 解析）
	Command string `yaml:"command" json:"command"`

	// 命令行参数
	Args []string `yaml:"args" json:"args"`

	// 工作目录，空则继承当前目录
	WorkingDir string `yaml:"working_dir" json:"working_dir"`

	// 附加环境变量，叠加在允许列表之上
	Env map[string]string `yaml:"env" json:"env"`

	// 启动探测窗口：窗口内子进程提前退出则 Connect 失败
	StartupWindow time.Duration `yaml:"startup_window" json:"startup_window"`

	// 启动探测步长
	StartupPollInterval time.Duration `yaml:"startup_poll_interval" json:"startup_poll_interval"`

	// 单条消息读超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// 优雅终止等待时长，超过则升级为强杀
	TerminateGrace time.Duration `yaml:"terminate_grace" json:"terminate_grace"`

	// 安全策略，nil 表示不做命令检查（测试场景）
	Policy *security.Policy `yaml:"-" json:"-"`
}

// DefaultProcessConfig 返回默认子进程传输配置
func DefaultProcessConfig(command string, args ...string) ProcessConfig {
	return ProcessConfig{
		Command:             command,
		Args:                args,
		StartupWindow:       300 * time.Millisecond,
		StartupPollInterval: 20 * time.Millisecond,
		ReadTimeout:         30 * time.Second,
		TerminateGrace:      2 * time.Second,
	}
}

func (c *ProcessConfig) applyDefaults() {
	if c.StartupWindow <= 0 {
		c.StartupWindow = 300 * time.Millisecond
	}
	if c.StartupPollInterval <= 0 {
		c.StartupPollInterval = 20 * time.Millisecond
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.TerminateGrace <= 0 {
		c.TerminateGrace = 2 * time.Second
	}
}

// ProcessTransport 子进程 stdio 传输。
// 拥有子进程的完整生命周期：启动、存活探测、回收与终止。
type ProcessTransport struct {
	config ProcessConfig
	logger *zap.Logger

	mu        sync.Mutex // 生命周期状态
	exchMu    sync.Mutex // 一问一答配对
	writeMu   sync.Mutex
	connected bool

	cmd    *exec.Cmd
	handle *processHandle
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	stderrTail *tailBuffer
	lines      chan lineResult
	done       chan struct{}
}

type lineResult struct {
	data []byte
	err  error
}

// NewProcessTransport 创建子进程传输
func NewProcessTransport(config ProcessConfig, logger *zap.Logger) *ProcessTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.applyDefaults()
	return &ProcessTransport{
		config:     config,
		logger:     logger.With(zap.String("component", "process_transport")),
		stderrTail: newTailBuffer(8 * 1024),
	}
}

// Connect 解析命令、校验安全策略、启动子进程并探测存活。
// 已连接时为幂等 no-op。
func (t *ProcessTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	if t.config.Command == "" {
		return fmt.Errorf("%w: empty command", ErrSpawnFailed)
	}

	// 安全检查在任何进程创建之前完成
	if t.config.Policy != nil {
		if err := t.config.Policy.ValidateCommand(t.config.Command, t.config.Args); err != nil {
			return err
		}
	}

	// 裸命令名自行按 PATH 解析，不依赖底层原语搜索
	path := t.config.Command
	if !strings.ContainsRune(path, os.PathSeparator) {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return fmt.Errorf("%w: %q not found in PATH: %v", ErrSpawnFailed, path, err)
		}
		path = resolved
	}

	cmd := exec.Command(path, t.config.Args...)
	cmd.Dir = t.config.WorkingDir
	cmd.Env = buildEnv(t.config.Env)
	// 独立进程组，终止信号不串扰父进程
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	t.cmd = cmd
	t.handle = newProcessHandle(cmd.Process.Pid)
	t.stdin = stdin
	t.stdout = stdout
	t.stderr = stderr
	t.lines = make(chan lineResult, 16)
	t.done = make(chan struct{})

	// stderr 独立捕获，不混入协议流
	go t.drainStderr(stderr)
	go t.readLines(stdout, t.lines, t.done)

	// 短步长轮询启动窗口，提前退出立即失败并带出 stderr 诊断
	deadline := time.Now().Add(t.config.StartupWindow)
	for time.Now().Before(deadline) {
		if !t.handle.alive() {
			tail := t.stderrTail.String()
			t.teardownLocked()
			if tail != "" {
				return fmt.Errorf("%w: %q exited during startup: %s", ErrSpawnFailed, t.config.Command, tail)
			}
			return fmt.Errorf("%w: %q exited during startup", ErrSpawnFailed, t.config.Command)
		}
		select {
		case <-ctx.Done():
			t.teardownLocked()
			return ctx.Err()
		case <-time.After(t.config.StartupPollInterval):
		}
	}
	if !t.handle.alive() {
		tail := t.stderrTail.String()
		t.teardownLocked()
		return fmt.Errorf("%w: %q exited during startup: %s", ErrSpawnFailed, t.config.Command, tail)
	}

	t.connected = true
	t.logger.Info("process transport connected",
		zap.String("command", t.config.Command),
		zap.Int("pid", t.handle.pid))
	return nil
}

// readLines 组装完整行后投递；不完整的行绝不当作完整消息返回
func (t *ProcessTransport) readLines(r io.Reader, lines chan<- lineResult, done <-chan struct{}) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// 行边界之前的残留数据随错误一起丢弃
			select {
			case lines <- lineResult{err: fmt.Errorf("%w: %v", ErrClosed, err)}:
			case <-done:
			}
			close(lines)
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		select {
		case lines <- lineResult{data: []byte(line)}:
		case <-done:
			close(lines)
			return
		}
	}
}

func (t *ProcessTransport) drainStderr(r io.Reader) {
	buf := make([]byte, 1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			t.stderrTail.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Send 序列化消息并整帧写入子进程 stdin
func (t *ProcessTransport) Send(ctx context.Context, msg *protocol.Message) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}
	data, err := msg.Serialize()
	if err != nil {
		return err
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	n, err := t.stdin.Write(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n < len(data) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrWriteFailed, n, len(data))
	}
	return nil
}

// Receive 阻塞等待下一条完整消息，受 ReadTimeout 与 ctx 约束。
// 超时返回 ErrReadTimeout，绝不把空/部分数据当作有效响应。
func (t *ProcessTransport) Receive(ctx context.Context) (*protocol.Message, error) {
	if t.lines == nil {
		return nil, ErrNotConnected
	}
	timer := time.NewTimer(t.config.ReadTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: no message within %s", ErrReadTimeout, t.config.ReadTimeout)
	case res, ok := <-t.lines:
		if !ok {
			return nil, ErrClosed
		}
		if res.err != nil {
			return nil, res.err
		}
		return protocol.Deserialize(res.data)
	}
}

// SendAndReceive 以一次收发配对的方式发送请求并等待响应
func (t *ProcessTransport) SendAndReceive(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	t.exchMu.Lock()
	defer t.exchMu.Unlock()

	if err := t.Send(ctx, msg); err != nil {
		return nil, err
	}
	return t.Receive(ctx)
}

// Ping 发送 ping 请求探测对端
func (t *ProcessTransport) Ping(ctx context.Context) bool {
	if !t.IsConnected() {
		return false
	}
	req, err := protocol.NewRequest(protocol.MethodPing, nil, protocol.NewStringID("ping-"+uuid.NewString()))
	if err != nil {
		return false
	}
	resp, err := t.SendAndReceive(ctx, req)
	return err == nil && resp.IsResponse() && !resp.IsError()
}

// IsConnected 返回传输是否可用（含子进程存活探测）
func (t *ProcessTransport) IsConnected() bool {
	t.mu.Lock()
	connected := t.connected
	handle := t.handle
	t.mu.Unlock()
	return connected && handle != nil && handle.alive()
}

// Info 返回连接描述
func (t *ProcessTransport) Info() string {
	if t.handle != nil {
		return fmt.Sprintf("stdio://%s (pid %d)", t.config.Command, t.handle.pid)
	}
	return "stdio://" + t.config.Command
}

// StderrTail 返回已捕获的子进程 stderr 尾部，用于诊断
func (t *ProcessTransport) StderrTail() string {
	return t.stderrTail.String()
}

// Close 幂等释放：关闭管道、按需终止子进程并完成最终回收
func (t *ProcessTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardownLocked()
	return nil
}

func (t *ProcessTransport) teardownLocked() {
	if t.handle == nil {
		t.connected = false
		return
	}

	if t.done != nil {
		select {
		case <-t.done:
		default:
			close(t.done)
		}
	}

	// 先关管道：阻塞中的读会因描述符关闭而解除
	if t.stdin != nil {
		t.stdin.Close()
		t.stdin = nil
	}
	if t.stdout != nil {
		t.stdout.Close()
		t.stdout = nil
	}
	if t.stderr != nil {
		t.stderr.Close()
		t.stderr = nil
	}

	t.handle.terminate(t.config.TerminateGrace)
	t.connected = false
	t.logger.Info("process transport closed", zap.Int("pid", t.handle.pid))
}

// buildEnv 以允许列表 + 配置项拼装子进程环境，
// 链接器劫持类变量无条件剥离
func buildEnv(extra map[string]string) []string {
	env := make(map[string]string, len(DefaultInheritedEnvVars)+len(extra))
	for _, key := range DefaultInheritedEnvVars {
		if value := os.Getenv(key); value != "" {
			env[key] = value
		}
	}
	for key, value := range extra {
		env[key] = value
	}
	for _, key := range blockedEnvVars {
		delete(env, key)
	}

	out := make([]string, 0, len(env))
	for key, value := range env {
		out = append(out, key+"="+value)
	}
	return out
}

// tailBuffer 有界尾部缓冲，只保留最近写入的字节
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
