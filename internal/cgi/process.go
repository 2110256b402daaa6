package cgi

import (
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Process is a running CGI child with its two pipe ends exposed as raw,
// non-blocking file descriptors so the event loop can register them as
// auxiliary descriptors alongside client sockets, instead of blocking a
// goroutine on Read/Write.
type Process struct {
	cmd     *exec.Cmd
	stdinW  *pipeEnd
	stdoutR *pipeEnd
	pid     int

	stdinClosed  bool
	stdoutClosed bool
}

// pipeEnd keeps the *os.File alive (so it isn't finalized and closed
// behind our back) while exposing the bare fd for unix.Read/unix.Write.
type pipeEnd struct {
	file *os.File
	fd   int
}

// Start spawns interpreter with scriptPath's basename as argv[1], cwd set
// to the script's directory, and env as the CGI/1.1 environment. Both
// pipe ends the parent keeps are set non-blocking immediately.
func Start(interpreter, scriptPath, cwd string, env []string) (*Process, error) {
	stdinR, stdinW, err := osPipe()
	if err != nil {
		return nil, err
	}
	stdoutR, stdoutW, err := osPipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, err
	}

	cmd := exec.Command(interpreter, filepath.Base(scriptPath))
	cmd.Dir = cwd
	cmd.Env = env
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, err
	}
	stdinR.Close()
	stdoutW.Close()

	// (*os.File).Fd() puts the fd back into blocking mode on every call,
	// so each fd is taken once, before it is made non-blocking.
	stdinFd := int(stdinW.Fd())
	stdoutFd := int(stdoutR.Fd())
	if err := unix.SetNonblock(stdinFd, true); err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(stdoutFd, true); err != nil {
		return nil, err
	}

	p := &Process{
		cmd:     cmd,
		stdinW:  &pipeEnd{file: stdinW, fd: stdinFd},
		stdoutR: &pipeEnd{file: stdoutR, fd: stdoutFd},
		pid:     cmd.Process.Pid,
	}
	return p, nil
}

// StdinFd is the write end of the child's stdin, registered for POLLOUT.
func (p *Process) StdinFd() int { return p.stdinW.fd }

// StdoutFd is the read end of the child's stdout, registered for POLLIN.
func (p *Process) StdoutFd() int { return p.stdoutR.fd }

// WriteStdin performs one non-blocking write to the child's stdin.
func (p *Process) WriteStdin(data []byte) (int, error) {
	return unix.Write(p.stdinW.fd, data)
}

// ReadStdout performs one non-blocking read from the child's stdout.
func (p *Process) ReadStdout(buf []byte) (int, error) {
	return unix.Read(p.stdoutR.fd, buf)
}

// CloseStdin closes the write end once the full body has been forwarded,
// signaling EOF to the child. Idempotent: a second call is a no-op, since
// the fd may already have been closed when the body finished streaming.
func (p *Process) CloseStdin() error {
	if p.stdinClosed {
		return nil
	}
	p.stdinClosed = true
	return p.stdinW.file.Close()
}

// CloseStdout closes the read end after EOF or abort. Idempotent for the
// same reason as CloseStdin.
func (p *Process) CloseStdout() error {
	if p.stdoutClosed {
		return nil
	}
	p.stdoutClosed = true
	return p.stdoutR.file.Close()
}

// Kill sends SIGKILL to the child, used on a CGI deadline breach.
func (p *Process) Kill() error {
	return p.cmd.Process.Kill()
}

// Reap performs a non-blocking waitpid, matching the "waitpid uses
// non-blocking semantics" requirement: no operation on the single thread
// may block.
func (p *Process) Reap() (exited bool, err error) {
	var ws unix.WaitStatus
	wpid, werr := unix.Wait4(p.pid, &ws, unix.WNOHANG, nil)
	if werr != nil {
		return false, werr
	}
	return wpid == p.pid, nil
}

// PID is the child's process id, used for logging and timeout bookkeeping.
func (p *Process) PID() int { return p.pid }
