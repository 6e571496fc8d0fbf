package config

import (
	"fmt"
	"os"
)

// Template is the default .workgarden.yaml content with commented optional sections.
const Template = `# workgarden configuration
#
# Path templates use {repo_name}, {branch} and {branch_slug}.
# Env files and hook commands use {{BRANCH}}, {{BRANCH_SLUG}}, {{WORKTREE_PATH}},
# {{REPO_NAME}}, {{PORT_<NAME>}} and any custom variables.

version: "1.0"
worktree_base_path: "../{repo_name}-worktrees"
worktree_naming: "{branch_slug}"

environment:
  copy_files:
    - .env
    # - {src: .env.example, dst: .env}
  # force: false               # overwrite env files that already exist
  substitutions:
    enabled: true
    custom_variables: {}
    #   API_URL: "http://localhost:{{PORT_WEB}}"

docker_compose:
  files:
    - docker-compose.yml
  # overlay_suffix: worktree   # docker-compose.yml -> docker-compose.worktree.yml
  ports:
    base_port: 10000
    max_port: 65000
    # max_attempts: 32          # reservation retries before giving up
    named_mappings: {}
    #   5432: DB                # names literal host ports

# aux_config:
#   dirs:
#     - .claude                 # directories mirrored into each worktree

hooks:
  post_create: []
  #   - npm install
  #   - run: docker compose up -d
  #     undo: docker compose down
  post_setup: []
  pre_remove: []
  #   - docker compose down
  post_remove: []

editor:
  # command: code
  auto_open: false
`

// WriteTemplate writes the default template to root/.workgarden.yaml.
// An existing file is only replaced when force is set.
func WriteTemplate(root string, force bool) (string, error) {
	fp := Path(root)

	if _, err := os.Stat(fp); err == nil && !force {
		return fp, fmt.Errorf("%s already exists (use --force to overwrite)", fp)
	}

	if err := os.WriteFile(fp, []byte(Template), 0o644); err != nil {
		return fp, fmt.Errorf("failed to write %s: %w", fp, err)
	}

	return fp, nil
}
