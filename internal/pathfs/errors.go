// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pathfs

import "fmt"

type notFoundError struct{ path string }

func (e notFoundError) Error() string {
	return fmt.Sprintf("pathfs: %q not found", e.path)
}

func errNotFound(path string) error {
	return notFoundError{path: path}
}

// IsNotFound reports whether err is a name-resolution miss.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}
