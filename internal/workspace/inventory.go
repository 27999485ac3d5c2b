// Copyright 2025 Tom Barlow
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

package workspace

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// hostVars is one host entry in the generated inventory. Field order is
// fixed so identical inputs produce byte-identical output.
type hostVars struct {
	AnsibleHost              string `yaml:"ansible_host"`
	AnsibleUser              string `yaml:"ansible_user"`
	AnsibleConnection        string `yaml:"ansible_connection"`
	AnsibleSSHPrivateKeyFile string `yaml:"ansible_ssh_private_key_file"`
	AnsibleSSHCommonArgs     string `yaml:"ansible_ssh_common_args,omitempty"`
	AnsiblePythonInterpreter string `yaml:"ansible_python_interpreter,omitempty"`
	AnsiblePipelining        bool   `yaml:"ansible_pipelining"`
	AnsibleRemoteTmp         string `yaml:"ansible_remote_tmp,omitempty"`
}

type inventoryGroup struct {
	Hosts map[string]hostVars `yaml:"hosts"`
}

type inventoryAll struct {
	Children map[string]inventoryGroup `yaml:"children"`
}

type inventory struct {
	All inventoryAll `yaml:"all"`
}

// renderInventory produces the inventory descriptor for one execution.
// Deterministic apart from the scratch-dependent key path.
func renderInventory(target Target, targetName, keyPath string, hostKeyChecking, pipelining bool) ([]byte, error) {
	vars := hostVars{
		AnsibleHost:              target.Host,
		AnsibleUser:              target.User,
		AnsibleConnection:        "ssh",
		AnsibleSSHPrivateKeyFile: keyPath,
		AnsiblePythonInterpreter: target.PythonInterpreter,
		AnsiblePipelining:        pipelining,
		AnsibleRemoteTmp:         target.RemoteTmp,
	}
	if !hostKeyChecking {
		vars.AnsibleSSHCommonArgs = "-o StrictHostKeyChecking=no"
	}

	inv := inventory{
		All: inventoryAll{
			Children: map[string]inventoryGroup{
				"zos": {
					Hosts: map[string]hostVars{targetName: vars},
				},
			},
		},
	}

	return yaml.Marshal(&inv)
}

// renderEngineConfig produces the ansible.cfg for one execution. Retry
// files are disabled so the scratch directory stays reproducible.
func renderEngineConfig(cfg Config) []byte {
	var b strings.Builder
	b.WriteString("[defaults]\n")
	fmt.Fprintf(&b, "forks = %d\n", cfg.Forks)
	fmt.Fprintf(&b, "host_key_checking = %s\n", iniBool(cfg.HostKeyChecking))
	b.WriteString("retry_files_enabled = False\n")
	b.WriteString("\n[ssh_connection]\n")
	fmt.Fprintf(&b, "pipelining = %s\n", iniBool(cfg.Pipelining))
	return []byte(b.String())
}

func iniBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
