/*
Copyright 2019 The Vitess Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package vtlog is a thin wrapper around logrus that gives the rest of
// the module the same Infof/Warningf/Errorf call sites that vitess's
// own vt/log package exposes (see message_manager.go, discoverygateway.go
// in the teacher pack), without pulling in vitess's glog-flavored
// internal logger.
package vtlog

import "github.com/sirupsen/logrus"

var std = logrus.StandardLogger()

// SetLogger swaps the package-level logger, e.g. so a host application
// can inject its own configured *logrus.Logger.
func SetLogger(l *logrus.Logger) {
	std = l
}

func Infof(format string, args ...any) {
	std.Infof(format, args...)
}

func Warningf(format string, args ...any) {
	std.Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	std.Errorf(format, args...)
}
