// Package artifact loads compiled contract artifacts and turns them into
// deployment factories.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Bidon15/popdeploy"
)

// Provider resolves a contract identifier to a deployment factory.
type Provider interface {
	Factory(identifier string) (*Factory, error)
}

// ContractArtifact is a compiled contract in hardhat or foundry JSON format.
type ContractArtifact struct {
	ABI          json.RawMessage `json:"abi"`
	Bytecode     Bytecode        `json:"bytecode"`
	ContractName string          `json:"contractName,omitempty"`
}

// Bytecode contains the creation bytecode.
// It handles both formats:
// - Simple string: "0x608060..."
// - Object with "object" field: {"object": "0x608060..."}
type Bytecode struct {
	hex string
}

// UnmarshalJSON handles both string and object bytecode formats.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	// Try as plain string first (hardhat output format)
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.hex = s
		return nil
	}

	// Foundry writes an object with "object" and link references
	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		b.hex = obj.Object
		return nil
	}

	return fmt.Errorf("bytecode must be a string or object with 'object' field")
}

// HexBytecode wraps a hex encoded bytecode string.
func HexBytecode(s string) Bytecode {
	return Bytecode{hex: s}
}

// String returns the bytecode hex string.
func (b Bytecode) String() string {
	return b.hex
}

// Decode returns the raw bytecode.
func (b Bytecode) Decode() ([]byte, error) {
	h := strings.TrimSpace(b.hex)
	if strings.Contains(h, "__") {
		return nil, errors.New("bytecode has unlinked library references")
	}
	if !strings.HasPrefix(h, "0x") && !strings.HasPrefix(h, "0X") {
		h = "0x" + h
	}
	if h == "0x" {
		return nil, nil
	}
	return hexutil.Decode(h)
}

// Factory builds deployment transaction data for one contract.
type Factory struct {
	Name     string
	ABI      abi.ABI
	Bytecode []byte
	Source   string // Artifact file the factory was loaded from
}

// NewFactory parses an ABI document and creation bytecode.
func NewFactory(name string, abiJSON []byte, bytecode Bytecode) (*Factory, error) {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}
	code, err := bytecode.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode bytecode: %w", err)
	}
	if len(code) == 0 {
		return nil, errors.New("artifact has no creation bytecode (abstract contract or interface)")
	}
	return &Factory{Name: name, ABI: parsed, Bytecode: code}, nil
}

// DeployData returns the creation bytecode followed by the ABI-encoded constructor
// arguments. args are converted to the constructor input types.
func (f *Factory) DeployData(args []string) ([]byte, error) {
	inputs := f.ABI.Constructor.Inputs
	if len(args) != len(inputs) {
		return nil, fmt.Errorf("constructor of %s expects %d arguments, got %d", f.Name, len(inputs), len(args))
	}

	values := make([]interface{}, len(args))
	for i, input := range inputs {
		v, err := Coerce(input.Type, args[i])
		if err != nil {
			name := input.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("constructor argument %s (%s): %w", name, input.Type.String(), err)
		}
		values[i] = v
	}

	packed, err := f.ABI.Pack("", values...)
	if err != nil {
		return nil, fmt.Errorf("pack constructor arguments: %w", err)
	}

	data := make([]byte, 0, len(f.Bytecode)+len(packed))
	data = append(data, f.Bytecode...)
	return append(data, packed...), nil
}

// DirProvider looks up artifacts under a build output directory. It understands the
// hardhat and foundry layouts (<Name>.json) and plain solc output (<Name>.abi and
// <Name>.bin).
type DirProvider struct {
	Dir string
}

// NewDirProvider creates a provider for the artifacts directory dir.
func NewDirProvider(dir string) *DirProvider {
	return &DirProvider{Dir: dir}
}

// Factory implements Provider. identifier is a contract name, or a fully qualified
// name such as "contracts/Token.sol:Token".
func (p *DirProvider) Factory(identifier string) (*Factory, error) {
	name := identifier
	if i := strings.LastIndex(identifier, ":"); i >= 0 {
		name = identifier[i+1:]
	}
	notFound := func(err error) error {
		return &popdeploy.ArtifactNotFoundError{Contract: identifier, Searched: []string{p.Dir}, Err: err}
	}
	if name == "" {
		return nil, notFound(errors.New("empty contract name"))
	}

	jsonPath, abiPath, err := p.find(name)
	if err != nil {
		return nil, notFound(err)
	}

	var factory *Factory
	switch {
	case jsonPath != "":
		factory, err = loadJSON(name, jsonPath)
		if err == nil {
			factory.Source = jsonPath
		}
	case abiPath != "":
		factory, err = loadSolcOutput(name, abiPath)
		if err == nil {
			factory.Source = abiPath
		}
	default:
		return nil, notFound(nil)
	}
	if err != nil {
		return nil, notFound(err)
	}
	return factory, nil
}

// find walks the directory once and returns the first JSON artifact and the first
// solc ABI file named after the contract.
func (p *DirProvider) find(name string) (jsonPath, abiPath string, err error) {
	err = filepath.WalkDir(p.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		switch d.Name() {
		case name + ".json":
			if jsonPath == "" {
				jsonPath = path
			}
		case name + ".abi":
			if abiPath == "" {
				abiPath = path
			}
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return "", "", nil
	}
	return jsonPath, abiPath, err
}

func loadJSON(name, path string) (*Factory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var artifact ContractArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(artifact.ABI) == 0 {
		return nil, fmt.Errorf("%s has no abi", path)
	}
	return NewFactory(name, artifact.ABI, artifact.Bytecode)
}

func loadSolcOutput(name, abiPath string) (*Factory, error) {
	abiJSON, err := os.ReadFile(abiPath)
	if err != nil {
		return nil, err
	}
	binPath := strings.TrimSuffix(abiPath, ".abi") + ".bin"
	bin, err := os.ReadFile(binPath)
	if err != nil {
		return nil, fmt.Errorf("read bytecode: %w", err)
	}
	return NewFactory(name, abiJSON, Bytecode{hex: string(bin)})
}
