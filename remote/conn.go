// Package remote dials a CVS server over its three classic transports
// (pserver, rsh/ext, local fork) and speaks just enough of the client
// protocol handshake to hand the caller a line-oriented Conn.
//
// Grounded on original_source/server.c: connect_to_pserver,
// connect_to_ext, connect_to_fork and connect_to_server's transport
// dispatch and Valid-requests handshake are translated here close to
// line-for-line, with os/exec and net standing in for fork/exec and
// getaddrinfo/socket. CVS_RSH argument splitting uses
// github.com/anmitsu/go-shlex, already a ground-truth dependency used
// there for shell-like command line parsing.
package remote

import (
	"bufio"
	"compress/zlib"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/anmitsu/go-shlex"

	"crap-clone/errs"
)

const validRequests = "Valid-responses ok error Valid-requests Checked-in New-entry " +
	"Checksum Copy-file Updated Created Update-existing Merged " +
	"Patched Rcs-diff Mode Mod-time Removed Remove-entry " +
	"Set-static-directory Clear-static-directory Set-sticky " +
	"Clear-sticky Template Notified Module-expansion " +
	"Wrapper-rcsOption M Mbinary E F MT"

// Conn is a line-oriented connection to a running `cvs server`,
// already past the protocol handshake and positioned to send requests
// and read responses.
type Conn struct {
	RemoteRoot string

	rw     io.ReadWriteCloser
	reader *bufio.Reader
}

// Dial classifies root the way connect_to_server does and connects
// over the matching transport, then performs the Root/Valid-requests
// handshake common to all of them.
func Dial(root string) (*Conn, error) {
	var (
		rw         io.ReadWriteCloser
		remoteRoot string
		err        error
	)

	switch {
	case strings.HasPrefix(root, ":pserver:"):
		rw, remoteRoot, err = dialPserver(root)
	case strings.HasPrefix(root, ":fake:"):
		rw, remoteRoot, err = dialFake(root)
	case strings.HasPrefix(root, ":ext:"):
		rw, remoteRoot, err = dialExt(root[len(":ext:"):])
	case !strings.HasPrefix(root, "/") && strings.Contains(root, ":"):
		rw, remoteRoot, err = dialExt(root)
	default:
		rw, remoteRoot, err = dialFork()
		remoteRoot = root
	}
	if err != nil {
		return nil, err
	}

	c := &Conn{RemoteRoot: remoteRoot, rw: rw, reader: bufio.NewReader(rw)}

	if err := c.writef("Root %s\n"+
		validRequests+"\n"+
		"valid-requests\n"+
		"UseUnchanged\n", remoteRoot); err != nil {
		return nil, err
	}

	line, err := c.NextLine()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "Valid-requests ") {
		return nil, errs.New(errs.Protocol, "dial", "did not get valid requests (%q)", line)
	}

	line, err = c.NextLine()
	if err != nil {
		return nil, err
	}
	if line != "ok" {
		return nil, errs.New(errs.Protocol, "dial", "did not get 'ok' from server")
	}

	return c, nil
}

// Compress wraps the connection in a zlib stream for the remainder of
// its life, implementing the -z/--compress option. The server side
// of the gzip-stream request has already been sent by the caller.
func (c *Conn) Compress(level int) error {
	zw, err := zlib.NewWriterLevel(c.rw, level)
	if err != nil {
		return errs.Wrap(errs.Protocol, "compress", err, "starting zlib writer")
	}
	zr, err := zlib.NewReader(c.rw)
	if err != nil {
		return errs.Wrap(errs.Protocol, "compress", err, "starting zlib reader")
	}
	c.rw = &zlibConn{Writer: zw, Reader: zr, closer: c.rw}
	c.reader = bufio.NewReader(c.rw)
	return nil
}

type zlibConn struct {
	io.Writer
	io.Reader
	closer io.Closer
}

func (z *zlibConn) Close() error { return z.closer.Close() }

// NextLine reads one newline-terminated protocol line, stripping the
// trailing newline. Grounded on server.c's next_line, including its
// rejection of a line containing an embedded NUL: next_line treats
// strlen(conn->line) < s (the getline byte count) as a fatal protocol
// violation, since a NUL would truncate the C string early.
func (c *Conn) NextLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return "", errs.Wrap(errs.Protocol, "read", err, "unexpected EOF from server")
		}
		if err != io.EOF {
			return "", errs.Wrap(errs.Resource, "read", err, "reading from server")
		}
	}
	line = strings.TrimSuffix(line, "\n")
	if strings.IndexByte(line, 0) != -1 {
		return "", errs.New(errs.Protocol, "read", "got line containing embedded NUL from server")
	}
	return line, nil
}

// Send writes a request line verbatim, appending the trailing
// newline the protocol requires.
func (c *Conn) Send(line string) error {
	return c.writef("%s\n", line)
}

// Sendf writes a formatted request, verbatim -- no trailing newline is
// added, matching the ground truth's cvs_printf/cvs_printff split
// between building up a multi-line request and terminating it.
func (c *Conn) Sendf(format string, args ...interface{}) error {
	return c.writef(format, args...)
}

// ReadBlock reads exactly n raw bytes of file content off the wire,
// e.g. a blob body following an "Updated"/"Created" entry's length
// line. Grounded on server.c/crap-clone.c's cvs_read_block.
func (c *Conn) ReadBlock(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return nil, errs.Wrap(errs.Resource, "read", err, "reading %d byte block from server", n)
	}
	return buf, nil
}

func (c *Conn) writef(format string, args ...interface{}) error {
	if _, err := fmt.Fprintf(c.rw, format, args...); err != nil {
		return errs.Wrap(errs.Resource, "write", err, "writing to server")
	}
	return nil
}

// Close releases the underlying transport.
func (c *Conn) Close() error {
	return c.rw.Close()
}

func dialFork() (io.ReadWriteCloser, string, error) {
	pipe, err := startProgram("cvs", []string{"cvs", "server"})
	return pipe, "", err
}

func dialExt(path string) (io.ReadWriteCloser, string, error) {
	slash := strings.IndexByte(path, '/')
	if slash < 0 {
		return nil, "", errs.New(errs.Config, "dial", "root %q has no remote root", path)
	}
	host := path[:slash]
	remoteRoot := path[slash:]

	program := os.Getenv("CVS_RSH")
	if program == "" {
		program = "ssh"
	}
	argv, err := shlex.Split(program, true)
	if err != nil || len(argv) == 0 {
		argv = []string{program}
	}
	argv = append(argv, host, "cvs", "server")

	pipe, err := startProgram(argv[0], argv)
	return pipe, remoteRoot, err
}

func dialFake(root string) (io.ReadWriteCloser, string, error) {
	body := root[len(":fake:"):]
	colon1 := strings.IndexByte(body, ':')
	if colon1 < 0 {
		return nil, "", errs.New(errs.Config, "dial", "root %q has no remote root", root)
	}
	rest := body[colon1+1:]
	colon2 := strings.IndexByte(rest, ':')
	if colon2 < 0 {
		return nil, "", errs.New(errs.Config, "dial", "root %q has no remote root", root)
	}
	program := body[:colon1]
	argument := rest[:colon2]
	remoteRoot := rest[colon2+1:]

	pipe, err := startProgram(program, []string{program, argument})
	return pipe, remoteRoot, err
}

func dialPserver(root string) (io.ReadWriteCloser, string, error) {
	host := strings.TrimPrefix(root, ":pserver:")
	slash := strings.IndexByte(host, '/')
	if slash < 0 {
		return nil, "", errs.New(errs.Config, "dial", "no path in CVS root %q", root)
	}
	remoteRoot := host[slash:]
	hostport := host[:slash]

	port := "2401"
	var userPart, hostPart string
	if at := strings.IndexByte(hostport, '@'); at >= 0 {
		userPart = hostport[:at]
		hostPart = hostport[at+1:]
	} else {
		hostPart = hostport
		userPart = os.Getenv("CVS_USER")
		if userPart == "" {
			if u, err := user.Current(); err == nil {
				userPart = u.Username
			}
		}
	}
	if colon := strings.IndexByte(hostPart, ':'); colon >= 0 {
		port = hostPart[colon+1:]
		hostPart = hostPart[:colon]
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(hostPart, port))
	if err != nil {
		return nil, "", errs.Wrap(errs.Upstream, "dial", err, "connecting to %s:%s", hostPart, port)
	}

	password := pserverPassword(root)
	if _, err := fmt.Fprintf(conn, "BEGIN AUTH REQUEST\n%s\n%s\n%s\nEND AUTH REQUEST\n",
		remoteRoot, userPart, password); err != nil {
		conn.Close()
		return nil, "", errs.Wrap(errs.Resource, "dial", err, "writing auth request")
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, "", errs.Wrap(errs.Resource, "dial", err, "reading auth response")
	}
	line = strings.TrimSuffix(line, "\n")
	if line != "I LOVE YOU" {
		conn.Close()
		return nil, "", errs.New(errs.Upstream, "dial", "failed to login: %q", line)
	}

	return &prereadConn{Conn: conn, pending: reader}, remoteRoot, nil
}

// prereadConn lets a bufio.Reader that already consumed the auth
// handshake's buffered bytes keep serving them to the Conn's own
// bufio.Reader layered on top.
type prereadConn struct {
	net.Conn
	pending *bufio.Reader
}

func (p *prereadConn) Read(b []byte) (int, error) { return p.pending.Read(b) }

// pserverPassword looks up root's saved password in ~/.cvspass,
// falling back to the well-known "A" (encoded empty password) CVS
// uses when no entry exists. Grounded on server.c's pserver_password.
func pserverPassword(root string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "A"
	}
	f, err := os.Open(filepath.Join(home, ".cvspass"))
	if err != nil {
		return "A"
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimPrefix(scanner.Text(), "/1 ")
		if rest := strings.TrimPrefix(line, root+" "); rest != line {
			return rest
		}
	}
	return "A"
}

func startProgram(name string, argv []string) (io.ReadWriteCloser, error) {
	cmd := exec.Command(name, argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "exec", err, "opening stdin pipe to %s", name)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "exec", err, "opening stdout pipe from %s", name)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.Resource, "exec", err, "starting %s", name)
	}
	return &pipeConn{in: stdin, out: stdout, cmd: cmd}, nil
}

type pipeConn struct {
	in  io.WriteCloser
	out io.ReadCloser
	cmd *exec.Cmd
}

func (p *pipeConn) Read(b []byte) (int, error)  { return p.out.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error) { return p.in.Write(b) }
func (p *pipeConn) Close() error {
	p.in.Close()
	p.out.Close()
	return p.cmd.Wait()
}
