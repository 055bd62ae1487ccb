package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Coerce converts a string value to the Go type the ABI encoder expects for t.
//
// Integers accept decimal or 0x-prefixed hex. bytes and bytesN take 0x-prefixed
// hex. Arrays and slices take a JSON array whose elements follow the same rules.
func Coerce(t abi.Type, s string) (interface{}, error) {
	switch t.T {
	case abi.StringTy:
		return s, nil

	case abi.BoolTy:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid bool %q", s)
		}
		return b, nil

	case abi.AddressTy:
		s = strings.TrimSpace(s)
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil

	case abi.IntTy, abi.UintTy:
		return coerceInt(t, strings.TrimSpace(s))

	case abi.BytesTy:
		b, err := hexutil.Decode(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid bytes %q: %w", s, err)
		}
		return b, nil

	case abi.FixedBytesTy:
		b, err := hexutil.Decode(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid bytes%d %q: %w", t.Size, s, err)
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("bytes%d needs %d bytes, got %d", t.Size, t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil

	case abi.SliceTy, abi.ArrayTy:
		return coerceList(t, s)

	default:
		return nil, fmt.Errorf("unsupported constructor argument type %s", t.String())
	}
}

func coerceInt(t abi.Type, s string) (interface{}, error) {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}

	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s overflows uint%d", s, t.Size)
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		minimum := new(big.Int).Neg(limit)
		if n.Cmp(minimum) < 0 || n.Cmp(limit) >= 0 {
			return nil, fmt.Errorf("%s overflows int%d", s, t.Size)
		}
	}

	switch t.Size {
	case 8, 16, 32, 64:
		v := reflect.New(t.GetType()).Elem()
		if t.T == abi.UintTy {
			v.SetUint(n.Uint64())
		} else {
			v.SetInt(n.Int64())
		}
		return v.Interface(), nil
	default:
		return n, nil
	}
}

func coerceList(t abi.Type, s string) (interface{}, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("%s needs a JSON array: %w", t.String(), err)
	}
	if t.T == abi.ArrayTy && len(raw) != t.Size {
		return nil, fmt.Errorf("%s needs %d elements, got %d", t.String(), t.Size, len(raw))
	}
	if t.Elem == nil {
		return nil, errors.New("list type without element type")
	}

	var list reflect.Value
	if t.T == abi.ArrayTy {
		list = reflect.New(t.GetType()).Elem()
	} else {
		list = reflect.MakeSlice(t.GetType(), len(raw), len(raw))
	}

	for i, elem := range raw {
		var str string
		if err := json.Unmarshal(elem, &str); err != nil {
			// Numbers and bools are taken as written
			str = string(elem)
		}
		v, err := Coerce(*t.Elem, str)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		list.Index(i).Set(reflect.ValueOf(v))
	}
	return list.Interface(), nil
}
