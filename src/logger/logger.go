/*
 * Copyright 2025 Ted Dunning
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logger holds the one logrus logger every package logs through.
package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Log is shared by all components. It writes text to stderr at info level
// until Setup says otherwise.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Setup redirects the log and picks the level. Quiet keeps only warnings and
// errors, verbose adds the factor choices of every rate request.
func Setup(w io.Writer, quiet, verbose bool) {
	if w != nil {
		Log.SetOutput(w)
	}
	switch {
	case quiet:
		Log.SetLevel(logrus.WarnLevel)
	case verbose:
		Log.SetLevel(logrus.DebugLevel)
	default:
		Log.SetLevel(logrus.InfoLevel)
	}
}

// Quiet is Setup(nil, true, false).
func Quiet() {
	Setup(nil, true, false)
}

// For returns an entry tagged with the component name.
func For(component string) *logrus.Entry {
	return Log.WithField("component", component)
}
