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

package pathfs_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/freemap"
	"github.com/cs439kernel/pintos-go/internal/inode"
	"github.com/cs439kernel/pintos-go/internal/pathfs"
)

const rootSector block.Sector = 0

type PathfsTest struct {
	suite.Suite

	tbl *inode.Table
	fs  *pathfs.FileSystem
}

func TestPathfsSuite(t *testing.T) {
	suite.Run(t, new(PathfsTest))
}

func (t *PathfsTest) SetupTest() {
	dev := block.NewMemDevice(1024)
	fm := freemap.New(1024)
	t.Require().NoError(fm.Reserve(rootSector))

	t.Require().NoError(inode.Create(dev, fm, rootSector, 0, true, rootSector))
	t.tbl = inode.NewTable(dev, fm)
	t.fs = pathfs.New(t.tbl, rootSector)
}

func (t *PathfsTest) TestCreateAndOpen() {
	t.Require().True(t.fs.Create("/f", rootSector, 0))

	n, err := t.fs.Open("/f", rootSector)
	t.Require().NoError(err)
	defer t.tbl.Close(n)
	t.Assert().False(n.IsDir())
}

func (t *PathfsTest) TestCreateDuplicateFails() {
	t.Require().True(t.fs.Create("f", rootSector, 0))
	t.Assert().False(t.fs.Create("f", rootSector, 0))
}

func (t *PathfsTest) TestOpenMissingFails() {
	_, err := t.fs.Open("/nope", rootSector)
	t.Require().Error(err)
	t.Assert().True(pathfs.IsNotFound(err))
}

func (t *PathfsTest) TestEmptyPathIsNotFound() {
	_, err := t.fs.Resolve("", rootSector)
	t.Require().Error(err)
	t.Assert().True(pathfs.IsNotFound(err))
	t.Assert().False(t.fs.Create("", rootSector, 0))
	t.Assert().False(t.fs.Remove("", rootSector))
}

func (t *PathfsTest) TestRemoveRootFails() {
	t.Assert().False(t.fs.Remove("/", rootSector))
}

func (t *PathfsTest) TestDotAndDotDot() {
	t.Require().True(t.fs.Mkdir("/a", rootSector))
	t.Require().True(t.fs.Mkdir("/a/b", rootSector))

	s, err := t.fs.Resolve("/a/.", rootSector)
	t.Require().NoError(err)
	a, err := t.fs.Resolve("/a", rootSector)
	t.Require().NoError(err)
	t.Assert().Equal(a, s)

	s, err = t.fs.Resolve("/a/b/..", rootSector)
	t.Require().NoError(err)
	t.Assert().Equal(a, s)

	// Root's ".." is root.
	s, err = t.fs.Resolve("/..", rootSector)
	t.Require().NoError(err)
	t.Assert().Equal(rootSector, s)

	s, err = t.fs.Resolve("/../..", rootSector)
	t.Require().NoError(err)
	t.Assert().Equal(rootSector, s)
}

func (t *PathfsTest) TestRelativeResolution() {
	t.Require().True(t.fs.Mkdir("/a", rootSector))
	a, err := t.fs.Resolve("/a", rootSector)
	t.Require().NoError(err)

	t.Require().True(t.fs.Create("f", a, 0))

	// Visible absolutely and relatively.
	_, err = t.fs.Resolve("/a/f", rootSector)
	t.Assert().NoError(err)
	_, err = t.fs.Resolve("f", a)
	t.Assert().NoError(err)
	_, err = t.fs.Resolve("f", rootSector)
	t.Assert().Error(err)
}

func (t *PathfsTest) TestChdirRequiresDirectory() {
	t.Require().True(t.fs.Create("/f", rootSector, 0))
	_, err := t.fs.Chdir("/f", rootSector)
	t.Assert().Error(err)

	t.Require().True(t.fs.Mkdir("/d", rootSector))
	cwd, err := t.fs.Chdir("/d", rootSector)
	t.Require().NoError(err)

	d, err := t.fs.Resolve("/d", rootSector)
	t.Require().NoError(err)
	t.Assert().Equal(d, cwd)
}

// Directory lifecycle: a non-empty directory refuses removal until its
// contents are gone.
func (t *PathfsTest) TestDirectoryLifecycle() {
	t.Require().True(t.fs.Mkdir("/a", rootSector))
	t.Require().True(t.fs.Mkdir("/a/b", rootSector))

	cwd, err := t.fs.Chdir("/a", rootSector)
	t.Require().NoError(err)

	t.Require().True(t.fs.Create("b/c", cwd, 0))
	t.Assert().False(t.fs.Remove("b", cwd), "non-empty directory must refuse removal")
	t.Assert().True(t.fs.Remove("b/c", cwd))
	t.Assert().True(t.fs.Remove("b", cwd))
}

// A directory that is some process's working directory refuses removal.
func (t *PathfsTest) TestRemoveCWDRefused() {
	t.Require().True(t.fs.Mkdir("/d", rootSector))
	_, err := t.fs.Chdir("/d", rootSector)
	t.Require().NoError(err)

	t.Assert().False(t.fs.Remove("/d", rootSector))
}

// Round trip: after mkdir /a/b, chdir /a/b, create c, the file is
// reachable by its absolute path.
func (t *PathfsTest) TestCreateInChangedDirectory() {
	t.Require().True(t.fs.Mkdir("/a", rootSector))
	t.Require().True(t.fs.Mkdir("/a/b", rootSector))

	cwd, err := t.fs.Chdir("/a/b", rootSector)
	t.Require().NoError(err)

	t.Require().True(t.fs.Create("c", cwd, 0))

	n, err := t.fs.Open("/a/b/c", rootSector)
	t.Require().NoError(err)
	t.tbl.Close(n)
}
