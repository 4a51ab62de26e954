// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import "fmt"

// secondStage runs as /init inside the imported image: it synthesizes the
// dpkg status database from the unpacked .control files, runs the preinst
// hooks, configures every package, and scrubs the paths that would make the
// image irreproducible.
const secondStage = `#!/bin/bash
set -e

cat << EOF > /usr/bin/policy-rc.d
#!/bin/sh
exit 101
EOF
chmod 755 /usr/bin/policy-rc.d

echo "Making control file" >&2
cd /var/lib/dpkg/info
for f in *.control; do
  cat $f
  echo
done > /var/lib/dpkg/status
rm -r *.control

# SOURCE_DATE_EPOCH makes /etc/shadow reproducible
export DEBIAN_FRONTEND=noninteractive SOURCE_DATE_EPOCH=0

set -x
for script in *.preinst; do
  package_fullname="${script//.preinst}"
  package_name="${package_fullname//:*}"
  DPKG_MAINTSCRIPT_NAME=preinst \
  DPKG_MAINTSCRIPT_PACKAGE=$package_name \
  ./"$script" install
done

cd /
# libc6's postinst requires ` + "`which`" + `, which is configured via update-alternatives(1)
dpkg --configure --force-depends debianutils
dpkg --configure -a

rm /etc/passwd- /etc/group- /etc/shadow- \
  /var/cache/debconf/*-old /var/lib/dpkg/*-old \
  /init
# This cache is not reproducible
rm /var/cache/ldconfig/aux-cache
# Some log files (e.g. btmp) need to exist with the right modes, so we truncate them
# instead of deleting them.
find /var/log -type f -exec truncate -s0 {} \;
`

// thirdStage makes the configured tree bootable as a VM guest.
const thirdStage = `
# Make suitable for VM use
passwd -d root
ln -s /lib/systemd/systemd /sbin/init
ln -s /lib/systemd/system/systemd-networkd.service \
    /etc/systemd/system/multi-user.target.wants/systemd-networkd.service

cat << EOF > /etc/systemd/network/ens.network
[Match]
Name=!lo*

[Network]
DHCP=yes

[DHCPv4]
UseHostname=no
EOF
`

// RenderInit assembles the /init script: the second stage, one apt source
// line per configured suite, then the third stage.
func RenderInit(archiveURL string, suites []string) string {
	script := secondStage
	for _, suite := range suites {
		script += fmt.Sprintf("echo deb %s %s main >> /etc/apt/sources.list\n", archiveURL, suite)
	}
	return script + thirdStage
}
