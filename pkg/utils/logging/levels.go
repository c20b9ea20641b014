/*
Copyright 2025 The llm-d Authors.

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

// Package logging holds the verbosity levels shared by the scorer packages.
// Loggers are always obtained from a context or injected at construction;
// nothing in this module keeps a global logger.
package logging

const (
	// DEBUG is the verbosity for per-call diagnostics.
	DEBUG = 4
	// TRACE is the verbosity for hot-path anomalies such as OOV substitution.
	TRACE = 5
)
