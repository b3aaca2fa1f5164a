package manager

import (
	"errors"
	"fmt"
	"net/textproto"
	"os"

	"github.com/italolelis/qget/internal/network"
	"gopkg.in/yaml.v3"
)

// Headers maps a canonical header name to its values. In YAML a value is a
// string or a list of strings.
type Headers map[string][]string

func (h *Headers) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return err
	}

	out := make(Headers, len(raw))

	for name, value := range raw {
		var values []string

		if value.Kind == yaml.SequenceNode {
			if err := value.Decode(&values); err != nil {
				return fmt.Errorf("header %s: %w", name, err)
			}
		} else {
			var v string
			if err := value.Decode(&v); err != nil {
				return fmt.Errorf("header %s: %w", name, err)
			}

			values = []string{v}
		}

		key := textproto.CanonicalMIMEHeaderKey(name)
		out[key] = append(out[key], values...)
	}

	*h = out

	return nil
}

// Job describes one transfer to run.
type Job struct {
	Method      string  `yaml:"method"`
	URL         string  `yaml:"url"`
	Headers     Headers `yaml:"headers"`
	User        string  `yaml:"user"`
	Password    string  `yaml:"password"`
	Input       string  `yaml:"input"`
	ContentType string  `yaml:"content_type"`
}

// Request builds the network request of the job.
func (j Job) Request() (*network.Request, error) {
	req, err := network.NewRequest(j.URL)
	if err != nil {
		return nil, err
	}

	for name, values := range j.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	req.User = j.User
	req.Password = j.Password

	return req, nil
}

// withDefaults fills the empty fields of j from d. Headers are merged; a name
// set by the job replaces all default values of that name.
func (j Job) withDefaults(d Job) Job {
	if j.Method == "" {
		j.Method = d.Method
	}

	if j.User == "" && j.Password == "" {
		j.User = d.User
		j.Password = d.Password
	}

	if j.Input == "" {
		j.Input = d.Input
	}

	if j.ContentType == "" {
		j.ContentType = d.ContentType
	}

	if len(d.Headers) > 0 {
		merged := make(Headers, len(d.Headers)+len(j.Headers))
		for k, v := range d.Headers {
			merged[k] = v
		}

		for k, v := range j.Headers {
			merged[k] = v
		}

		j.Headers = merged
	}

	return j
}

// Batch is the document read by LoadBatch.
type Batch struct {
	Defaults  Job   `yaml:"defaults"`
	Transfers []Job `yaml:"transfers"`
}

// LoadBatch reads jobs from a YAML file:
//
//	defaults:
//	  headers:
//	    Accept: application/octet-stream
//	transfers:
//	  - url: https://example.com/a.iso
//	  - url: https://example.com/upload
//	    method: PUT
//	    input: ./a.iso
func LoadBatch(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	return ParseBatch(data)
}

// ParseBatch decodes a batch document and applies its defaults to every job.
func ParseBatch(data []byte) ([]Job, error) {
	var batch Batch
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}

	if len(batch.Transfers) == 0 {
		return nil, errors.New("batch file has no transfers")
	}

	jobs := make([]Job, 0, len(batch.Transfers))

	for i, job := range batch.Transfers {
		if job.URL == "" {
			return nil, fmt.Errorf("transfer %d has no url", i+1)
		}

		jobs = append(jobs, job.withDefaults(batch.Defaults))
	}

	return jobs, nil
}
