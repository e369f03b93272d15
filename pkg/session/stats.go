package session

import (
	"fmt"
	"strings"
)

// Stats is a point-in-time snapshot of remote host load, gathered over the
// session's exec channel.
type Stats struct {
	CPU    string
	Memory string
	Disk   string
}

const (
	cpuCmd  = `top -bn1 | grep "Cpu(s)"`
	memCmd  = `free -h | grep "Mem:"`
	diskCmd = `df -h / | tail -1`
)

// Stats queries CPU, memory and disk usage from the remote host. It needs a
// Ready session; connection-level failures mark the session Failed.
func (s *Session) Stats() (Stats, error) {
	conn, err := s.Conn()
	if err != nil {
		return Stats{}, err
	}

	rawCPU, err := conn.Exec(cpuCmd)
	if err != nil {
		s.Fault(err)
		return Stats{}, fmt.Errorf("cpu stats: %w", err)
	}
	rawMem, err := conn.Exec(memCmd)
	if err != nil {
		s.Fault(err)
		return Stats{}, fmt.Errorf("memory stats: %w", err)
	}
	rawDisk, err := conn.Exec(diskCmd)
	if err != nil {
		s.Fault(err)
		return Stats{}, fmt.Errorf("disk stats: %w", err)
	}

	return Stats{
		CPU:    parseCPU(rawCPU),
		Memory: parseMemory(rawMem),
		Disk:   parseDisk(rawDisk),
	}, nil
}

func field(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return "?"
}

func parseCPU(raw string) string {
	parts := strings.Fields(raw)
	return fmt.Sprintf("User: %s%%, System: %s%%, Idle: %s%%",
		field(parts, 1), field(parts, 3), field(parts, 7))
}

func parseMemory(raw string) string {
	parts := strings.Fields(raw)
	return fmt.Sprintf("Total: %s, Used: %s, Free: %s",
		field(parts, 1), field(parts, 2), field(parts, 3))
}

func parseDisk(raw string) string {
	parts := strings.Fields(raw)
	return fmt.Sprintf("Filesystem: %s, Total: %s, Used: %s, Available: %s, Usage: %s",
		field(parts, 0), field(parts, 1), field(parts, 2), field(parts, 3), field(parts, 4))
}
