/*
 * Copyright 2025 Polyglot Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package plugin

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/CoolandonRS/polyglot/pkg/shm"
)

type logger struct {
	name      string
	out       io.Writer
	callDepth int
}

var (
	level int

	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors = []string{
		magenta,
		green,
		blue,
		yellow,
		red,
	}

	levelName = []string{
		"Trace",
		"Debug",
		"Info",
		"Warn",
		"Error",
	}
)

const (
	levelTrace = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
	levelNoPrint
)

func init() {
	level = levelWarn
	if os.Getenv("POLYGLOT_LOG_LEVEL") != "" {
		if n, err := strconv.Atoi(os.Getenv("POLYGLOT_LOG_LEVEL")); err == nil {
			if n <= levelNoPrint {
				level = n
			}
		}
	}
}

// SetLogLevel changes the level of every host logger. The default level is
// Warn; the env var `POLYGLOT_LOG_LEVEL` sets it at startup.
func SetLogLevel(l int) {
	if l <= levelNoPrint {
		level = l
	}
}

func newLogger(name string, out io.Writer) *logger {
	if out == nil {
		out = os.Stdout
	}
	return &logger{
		name:      name,
		out:       out,
		callDepth: 3,
	}
}

func (l *logger) logf(lv int, format string, a ...interface{}) {
	if level > lv {
		return
	}
	if _, err := fmt.Fprintf(l.out, l.prefix(lv)+format+reset+"\n", a...); err != nil {
		fmt.Fprintf(os.Stderr, "logger write failed: %v\n", err)
	}
}

func (l *logger) errorf(format string, a ...interface{}) { l.logf(levelError, format, a...) }

func (l *logger) warnf(format string, a ...interface{}) { l.logf(levelWarn, format, a...) }

func (l *logger) infof(format string, a ...interface{}) { l.logf(levelInfo, format, a...) }

func (l *logger) debugf(format string, a ...interface{}) { l.logf(levelDebug, format, a...) }

func (l *logger) tracef(format string, a ...interface{}) { l.logf(levelTrace, format, a...) }

func (l *logger) prefix(level int) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_, _ = buf.WriteString(colors[level])
	_, _ = buf.WriteString(levelName[level])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(time.Now().Format("2006-01-02 15:04:05.999999"))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.location())
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.name)
	_ = buf.WriteByte(' ')
	return buf.String()
}

func (l *logger) location() string {
	// +1 for logf
	_, file, line, ok := runtime.Caller(l.callDepth + 1)
	if !ok {
		file = "???"
		line = 0
	}
	file = filepath.Base(file)
	return file + ":" + strconv.Itoa(line)
}

// DebugChannelDetail prints the status byte and the used payload length of
// the segment file at path, e.g. /dev/shm/<name>. It only reads the file.
func DebugChannelDetail(path string) {
	fmt.Println(channelDetail(path))
}

func channelDetail(path string) string {
	mem, err := os.ReadFile(path)
	if err != nil {
		return err.Error()
	}
	if len(mem) == 0 {
		return fmt.Sprintf("path:%s empty segment", path)
	}
	status := "malformed"
	if st, err := shm.ParseStatus(mem[0]); err == nil {
		status = st.String()
	}
	payload := mem[1:]
	used := len(payload)
	for used > 0 && payload[used-1] == 0 {
		used--
	}
	return fmt.Sprintf("path:%s status:%s(%d) cap:%d used:%d", path, status, mem[0], len(payload), used)
}
