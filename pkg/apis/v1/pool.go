// Copyright 2017 Google Inc.
// Copyright 2020 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package v1

// PoolSpec is one address pool as it appears in configuration: a
// name used for diagnostics and a range in either CIDR or
// "first-last" notation.
type PoolSpec struct {
	Name  string `yaml:"name"`
	Range string `yaml:"range"`
}

// Config is the top-level configuration document: a list of address
// pools to install into a registry at startup.
type Config struct {
	Pools []PoolSpec `yaml:"pools"`
}
