package headhunter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

const (
	SearchPath  = "/vacancies"
	vacancyPath = "/vacancies/%s"
)

type SearchParams struct {
	Text string `yaml:"text"`
	// hhparam is custom tag for reflect. Please see below.
	Areas       []int    `hhparam:"area"`
	Clusters    bool     `yaml:"clusters"`
	OrderBy     string   `yaml:"order_by" mapstructure:"order_by"`
	Employer    uint     `yaml:"employer_id" mapstructure:"employer_id"`
	SearchField string   `yaml:"search_field" mapstructure:"search_field"`
	Schedules   []string `hhparam:"schedule"`
	PerPage     string   `yaml:"per_page" mapstructure:"per_page"`
	Experience  string   `yaml:"experience"`
	Period      uint     `yaml:"period"`
}

// SearchPage is one page of search results.
type SearchPage struct {
	Items   []*Vacancy
	Found   int
	Pages   int
	Page    int
	PerPage int
}

type itemResponse struct {
	Items   []map[string]any `json:"items"`
	Found   int              `json:"found"`
	Pages   int              `json:"pages"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
}

// GetVacancy fetches the full vacancy. A vacancy unknown to the API yields
// a *NotFoundError.
func (c *Client) GetVacancy(ctx context.Context, id string) (*Vacancy, error) {
	data, err := c.get(ctx, fmt.Sprintf(vacancyPath, url.PathEscape(id)), nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("get vacancy %s: %w", id, err)
	}

	var v Vacancy
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode vacancy %s: %w", id, err)
	}
	v.Raw = json.RawMessage(data)
	return &v, nil
}

// Search returns one page of search results. Pages start at 0.
func (c *Client) Search(ctx context.Context, params *SearchParams, page int) (*SearchPage, error) {
	if params == nil {
		params = &SearchParams{}
	}
	q := buildParams(params)
	// Set per_page max as possible. It should be faster.
	if q.Get("per_page") == "" {
		q.Set("per_page", perPage)
	}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}

	data, err := c.get(ctx, SearchPath, q)
	if err != nil {
		return nil, fmt.Errorf("search vacancies: %w", err)
	}

	var response itemResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("decode search page: %w", err)
	}

	items, err := decodeItems(response.Items)
	if err != nil {
		return nil, err
	}

	return &SearchPage{
		Items:   items,
		Found:   response.Found,
		Pages:   response.Pages,
		Page:    response.Page,
		PerPage: response.PerPage,
	}, nil
}

// SearchAll walks the result pages. maxPages <= 0 means every page.
func (c *Client) SearchAll(ctx context.Context, params *SearchParams, maxPages int) (*Vacancies, error) {
	response, err := c.Search(ctx, params, 0)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("got response from HH.ru",
		zap.Int("found", response.Found),
		zap.Int("pages", response.Pages),
		zap.Int("max items per page", response.PerPage),
	)

	vacancies := &Vacancies{Items: response.Items}
	fetched := 1
	for response.Page < (response.Pages-1) && (maxPages <= 0 || fetched < maxPages) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.logger.Debug("additional request needed", zap.String("reason", fmt.Sprintf(
			"current page (%d) < all page count (%d)", response.Page+1, response.Pages),
		))

		response, err = c.Search(ctx, params, response.Page+1)
		if err != nil {
			return nil, err
		}
		vacancies.Items = append(vacancies.Items, response.Items...)
		fetched++
	}

	return vacancies, nil
}

func decodeItems(items []map[string]any) ([]*Vacancy, error) {
	out := make([]*Vacancy, 0, len(items))
	for _, item := range items {
		var v Vacancy
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &v,
			TagName:          "json",
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(item); err != nil {
			return nil, fmt.Errorf("decode search item: %w", err)
		}
		if raw, err := json.Marshal(item); err == nil {
			v.Raw = raw
		}
		out = append(out, &v)
	}
	return out, nil
}

func buildParams(params *SearchParams) url.Values {
	q := url.Values{}
	fields := reflect.VisibleFields(reflect.TypeOf(*params))
	for _, field := range fields {
		// Our custom tag is using here.
		key := field.Tag.Get("hhparam")
		if key == "" {
			// Failover to default tag if our tag do not exist.
			key = field.Tag.Get("yaml")
		}
		kind := field.Type.Kind()
		switch kind {
		case reflect.Slice:

			s := reflect.ValueOf(params).Elem().Field(field.Index[0]).Interface()
			switch v := s.(type) {
			case []int:
				for _, value := range v {
					q.Add(key, strconv.Itoa(value))
				}

			case []string:
				for _, value := range v {
					q.Add(key, value)
				}
			}

		default:
			value := fmt.Sprintf("%v", reflect.ValueOf(params).Elem().Field(field.Index[0]).Interface())
			if value != "" && value != "0" && value != "false" {
				q.Set(key, value)
			}
		}
	}

	return q
}
