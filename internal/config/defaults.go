package config

import (
	"os/exec"
	"runtime"
	"strings"

	"github.com/vectis-project/vectis/internal/distroinfo"
)

// defaultsYAML is the lowest-priority configuration layer. Its defaults
// section is the schema: a key that does not appear here is unknown to
// every lookup. Structural suite keys (apt_suite, apt_trusted, archive,
// base) are deliberately absent.
const defaultsYAML = `
defaults:
    vendor: debian
    suite: null
    architecture: null
    parallel: 1
    storage: null

    components: main
    extra_components: []
    uris: []
    mirrors: {}
    apt_key: null

    autopkgtest:
        - schroot
        - qemu
    debootstrap_script: null
    default_suite: null
    default_worker_suite: null
    dpkg_source_diff_ignore: null
    dpkg_source_tar_ignore: []
    dpkg_source_extend_diff_ignore: []
    force_parallel: null
    kernel_package: null
    link_builds: []
    output_dir: null
    output_parent: ".."
    piuparts_tarballs:
        - minimal.tar.gz
    qemu_image: autopkgtest.qcow2
    qemu_image_size: 42G
    qemu_ram_size: null
    sbuild_indep_together: false
    sbuild_source_together: false
    sbuild_resolver: []
    vmdebootstrap_options: []
    write_qemu_image: null

    worker: null
    worker_architecture: null
    worker_qemu_image: null
    worker_suite: null
    worker_vendor: debian

    lxc_worker: null
    lxc_worker_architecture: null
    lxc_worker_qemu_image: null
    lxc_worker_suite: null
    lxc_worker_vendor: null

    lxd_worker: null
    lxd_worker_architecture: null
    lxd_worker_qemu_image: null
    lxd_worker_suite: null
    lxd_worker_vendor: null

    piuparts_worker: null
    piuparts_worker_architecture: null
    piuparts_worker_qemu_image: null
    piuparts_worker_suite: null
    piuparts_worker_vendor: null

    sbuild_worker: null
    sbuild_worker_architecture: null
    sbuild_worker_qemu_image: null
    sbuild_worker_suite: null
    sbuild_worker_vendor: null

    vmdebootstrap_worker: null
    vmdebootstrap_worker_architecture: null
    vmdebootstrap_worker_qemu_image: null
    vmdebootstrap_worker_suite: null
    vmdebootstrap_worker_vendor: null

vendors:
    debian:
        apt_key: /usr/share/keyrings/debian-archive-keyring.gpg
        autopkgtest:
            - lxc
            - qemu
        components: main
        extra_components: contrib non-free
        default_suite: sid
        uris:
            - http://deb.debian.org/debian
        suites:
            sid: {}
            experimental:
                base: sid
                sbuild_resolver:
                    - --build-dep-resolver=aspcud
            rc-buggy:
                alias_for: experimental
            unstable:
                alias_for: sid
            jessie:
                force_parallel: 1
            wheezy:
                force_parallel: 1
                vmdebootstrap_worker_suite: jessie
                vmdebootstrap_options:
                    - --boottype=ext3
                    - --extlinux
                    - --mbr
                    - --no-grub
                    - --enable-dhcp
            "*-backports":
                sbuild_resolver:
                    - --build-dep-resolver=aptitude
            "*-security":
                apt_suite: "*/updates"
                archive: security.debian.org
                uris:
                    - http://security.debian.org
            "*-apt.buildd.debian.org":
                apt_suite: "*"
                apt_key: buildd.debian.org_archive_key_2017_2018.gpg
                archive: apt.buildd.debian.org
                uris:
                    - https://apt.buildd.debian.org/debian
    ubuntu:
        apt_key: /usr/share/keyrings/ubuntu-archive-keyring.gpg
        autopkgtest:
            - lxc
            - qemu
        components: main universe
        extra_components: restricted multiverse
        worker_vendor: ubuntu
        uris:
            - http://archive.ubuntu.com/ubuntu
        suites:
            "*-backports": {}
            "*-proposed": {}
            "*-security": {}
            "*-updates": {}

directories:
    /: {}
`

// DefaultsLayer builds the hard-coded defaults layer: the embedded tree
// above, augmented with values that have better runtime defaults (CPU
// count, the host dpkg architecture) and with release names and aliases
// from distro-info data.
func DefaultsLayer() (*Layer, error) {
	layer, err := ParseLayer([]byte(defaultsYAML))
	if err != nil {
		return nil, err
	}

	layer.Defaults["parallel"] = runtime.NumCPU()

	if out, err := exec.Command("dpkg", "--print-architecture").Output(); err == nil {
		layer.Defaults["architecture"] = strings.TrimSpace(string(out))
	}

	injectDebianReleases(layer)
	injectUbuntuReleases(layer)

	return layer, nil
}

func injectDebianReleases(layer *Layer) {
	debian := layer.Vendors["debian"]

	info, err := distroinfo.Debian()
	if err != nil {
		debian.Values["default_worker_suite"] = "sid"
		return
	}

	if stable, err := info.Stable(); err == nil {
		debian.Values["default_worker_suite"] = stable
		setAlias(debian, "stable", stable)
	} else {
		debian.Values["default_worker_suite"] = "sid"
	}
	if testing, err := info.Testing(); err == nil {
		setAlias(debian, "testing", testing)
	}
	if old, err := info.OldStable(); err == nil {
		setAlias(debian, "oldstable", old)
	}

	for _, series := range info.All() {
		if _, ok := debian.Suites[series]; !ok {
			debian.Suites[series] = map[string]interface{}{}
		}
	}
}

func injectUbuntuReleases(layer *Layer) {
	ubuntu := layer.Vendors["ubuntu"]

	info, err := distroinfo.Ubuntu()
	if err != nil {
		return
	}

	// Just after an Ubuntu release there is briefly no development
	// version at all; fall back to the stable release.
	devel, err := info.Devel()
	if err != nil {
		devel, err = info.Stable()
	}
	if err == nil {
		ubuntu.Values["default_suite"] = devel
		setAlias(ubuntu, "devel", devel)
	}

	if lts, err := info.LTS(); err == nil {
		ubuntu.Values["default_worker_suite"] = lts + "-backports"
	}

	for _, series := range info.All() {
		if _, ok := ubuntu.Suites[series]; !ok {
			ubuntu.Suites[series] = map[string]interface{}{}
		}
	}
}

func setAlias(vendor *VendorLayer, name, target string) {
	if name == target {
		return
	}
	vendor.Suites[name] = map[string]interface{}{"alias_for": target}
}
