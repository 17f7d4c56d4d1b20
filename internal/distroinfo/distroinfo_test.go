package distroinfo_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectis-project/vectis/internal/distroinfo"
)

const debianTable = `version,codename,series,created,release,eol
1.1,Buzz,buzz,1993-08-16,1996-06-17,1997-06-05
7.0,Wheezy,wheezy,2011-02-06,2013-05-04,2016-04-25
8.0,Jessie,jessie,2013-05-04,2015-04-25,2018-06-17
9.0,Stretch,stretch,2015-04-25,2017-06-17,2020-07-06
10.0,Buster,buster,2017-06-17,2019-07-06
,Bullseye,bullseye,2019-07-06
,Sid,sid,1993-08-16
,Experimental,experimental,1993-08-16
`

const ubuntuTable = `version,codename,series,created,release,eol
14.04 LTS,Trusty Tahr,trusty,2013-10-17,2014-04-17,2019-04-25
16.04 LTS,Xenial Xerus,xenial,2015-10-22,2016-04-21,2021-04-21
16.10,Yakkety Yak,yakkety,2016-04-21,2016-10-13,2017-07-20
17.04,Zesty Zapus,zesty,2016-10-13,2017-04-13,2018-01-13
`

func parseAt(t *testing.T, table, now string) *distroinfo.Info {
	t.Helper()
	when, err := time.Parse("2006-01-02", now)
	require.NoError(t, err)
	info, err := distroinfo.Parse(strings.NewReader(table), when)
	require.NoError(t, err)
	return info
}

func TestDebianTable(t *testing.T) {
	info := parseAt(t, debianTable, "2019-10-01")

	assert.Equal(t, []string{
		"buzz", "wheezy", "jessie", "stretch", "buster",
		"bullseye", "sid", "experimental",
	}, info.All())

	stable, err := info.Stable()
	require.NoError(t, err)
	assert.Equal(t, "buster", stable)

	oldStable, err := info.OldStable()
	require.NoError(t, err)
	assert.Equal(t, "stretch", oldStable)

	next, err := info.Testing()
	require.NoError(t, err)
	assert.Equal(t, "bullseye", next)

	devel, err := info.Devel()
	require.NoError(t, err)
	assert.Equal(t, "bullseye", devel)
}

func TestDebianBeforeRelease(t *testing.T) {
	info := parseAt(t, debianTable, "2019-07-05")

	stable, err := info.Stable()
	require.NoError(t, err)
	assert.Equal(t, "stretch", stable)

	next, err := info.Testing()
	require.NoError(t, err)
	assert.Equal(t, "buster", next)
}

func TestUbuntuTable(t *testing.T) {
	info := parseAt(t, ubuntuTable, "2017-01-01")

	stable, err := info.Stable()
	require.NoError(t, err)
	assert.Equal(t, "yakkety", stable)

	devel, err := info.Devel()
	require.NoError(t, err)
	assert.Equal(t, "zesty", devel)

	lts, err := info.LTS()
	require.NoError(t, err)
	assert.Equal(t, "xenial", lts)
}

func TestUbuntuOutdated(t *testing.T) {
	info := parseAt(t, ubuntuTable, "2018-01-01")

	_, err := info.Devel()
	assert.ErrorIs(t, err, distroinfo.ErrDataOutdated)

	stable, err := info.Stable()
	require.NoError(t, err)
	assert.Equal(t, "zesty", stable)
}

func TestEmbeddedTables(t *testing.T) {
	debian, err := distroinfo.Debian()
	require.NoError(t, err)
	assert.Contains(t, debian.All(), "sid")

	ubuntu, err := distroinfo.Ubuntu()
	require.NoError(t, err)
	stable, err := ubuntu.Stable()
	require.NoError(t, err)
	assert.NotEmpty(t, stable)
}