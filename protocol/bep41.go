package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"strings"
)

// ExtractExtensionData reads the BEP 41 options following an announce
// request and returns the concatenated URL data.
func ExtractExtensionData(reader *bytes.Reader) (string, error) {
	var builder strings.Builder

	for {
		var optionType uint8
		if err := Unmarshal(reader, &optionType); err != nil {
			if errors.Is(err, io.EOF) {
				return builder.String(), nil
			}
			return "", err
		}

		switch BEP41OptionType(optionType) {
		case BEP41OptionTypeEndOfOptions:
			return builder.String(), nil
		case BEP41OptionTypeNOP:
			continue
		case BEP41OptionTypeURLData:
			var length uint8
			if err := Unmarshal(reader, &length); err != nil {
				return "", err
			}

			urlData := make([]byte, length)
			if _, err := io.ReadFull(reader, urlData); err != nil {
				return "", err
			}

			builder.Write(urlData)
		default:
			return "", fmt.Errorf("Unknown BEP 41 option type %d", optionType)
		}
	}
}

// EncodeURLData encodes the path and query of u as BEP 41 URL data options.
// Data longer than 255 bytes is split over several options.
func EncodeURLData(u *url.URL) []byte {
	if u.Path == "" && u.RawQuery == "" {
		return nil
	}

	data := []byte(u.RequestURI())

	buf := bytes.NewBuffer(make([]byte, 0, len(data)+2*(len(data)/math.MaxUint8+1)+1))
	for len(data) > 0 {
		n := len(data)
		if n > math.MaxUint8 {
			n = math.MaxUint8
		}

		buf.WriteByte(byte(BEP41OptionTypeURLData))
		buf.WriteByte(byte(n))
		buf.Write(data[:n])
		data = data[n:]
	}
	buf.WriteByte(byte(BEP41OptionTypeEndOfOptions))

	return buf.Bytes()
}

// ConvertUrlDataToUrl parses extracted URL data. Data that is not an absolute
// path yields an empty URL.
func ConvertUrlDataToUrl(urlData []byte) (*url.URL, error) {
	if len(urlData) == 0 || urlData[0] != '/' {
		return &url.URL{}, nil
	}

	return url.ParseRequestURI(string(urlData))
}
