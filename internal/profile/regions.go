package profile

import (
	"context"
	"fmt"
)

// FederalSubjects lists Russian federal subjects keyed by their two-digit
// region code. The code doubles as the region id.
var FederalSubjects = []Region{
	subject("01", "Республика Адыгея"),
	subject("02", "Республика Башкортостан"),
	subject("03", "Республика Бурятия"),
	subject("04", "Республика Алтай"),
	subject("05", "Республика Дагестан"),
	subject("06", "Республика Ингушетия"),
	subject("07", "Кабардино-Балкарская Республика"),
	subject("08", "Республика Калмыкия"),
	subject("09", "Карачаево-Черкесская Республика"),
	subject("10", "Республика Карелия"),
	subject("11", "Республика Коми"),
	subject("12", "Республика Марий Эл"),
	subject("13", "Республика Мордовия"),
	subject("14", "Республика Саха (Якутия)"),
	subject("15", "Республика Северная Осетия-Алания"),
	subject("16", "Республика Татарстан"),
	subject("17", "Республика Тыва"),
	subject("18", "Удмуртская Республика"),
	subject("19", "Республика Хакасия"),
	subject("20", "Чеченская Республика"),
	subject("21", "Чувашская Республика"),
	subject("22", "Алтайский край"),
	subject("23", "Краснодарский край"),
	subject("24", "Красноярский край"),
	subject("25", "Приморский край"),
	subject("26", "Ставропольский край"),
	subject("27", "Хабаровский край"),
	subject("28", "Амурская область"),
	subject("29", "Архангельская область"),
	subject("30", "Астраханская область"),
	subject("31", "Белгородская область"),
	subject("32", "Брянская область"),
	subject("33", "Владимирская область"),
	subject("34", "Волгоградская область"),
	subject("35", "Вологодская область"),
	subject("36", "Воронежская область"),
	subject("37", "Ивановская область"),
	subject("38", "Иркутская область"),
	subject("39", "Калининградская область"),
	subject("40", "Калужская область"),
	subject("41", "Камчатский край"),
	subject("42", "Кемеровская область"),
	subject("43", "Кировская область"),
	subject("44", "Костромская область"),
	subject("45", "Курганская область"),
	subject("46", "Курская область"),
	subject("47", "Ленинградская область"),
	subject("48", "Липецкая область"),
	subject("49", "Магаданская область"),
	subject("50", "Московская область"),
	subject("51", "Мурманская область"),
	subject("52", "Нижегородская область"),
	subject("53", "Новгородская область"),
	subject("54", "Новосибирская область"),
	subject("55", "Омская область"),
	subject("56", "Оренбургская область"),
	subject("57", "Орловская область"),
	subject("58", "Пензенская область"),
	subject("59", "Пермский край"),
	subject("60", "Псковская область"),
	subject("61", "Ростовская область"),
	subject("62", "Рязанская область"),
	subject("63", "Самарская область"),
	subject("64", "Саратовская область"),
	subject("65", "Сахалинская область"),
	subject("66", "Свердловская область"),
	subject("67", "Смоленская область"),
	subject("68", "Тамбовская область"),
	subject("69", "Тверская область"),
	subject("70", "Томская область"),
	subject("71", "Тульская область"),
	subject("72", "Тюменская область"),
	subject("73", "Ульяновская область"),
	subject("74", "Челябинская область"),
	subject("75", "Забайкальский край"),
	subject("76", "Ярославская область"),
	subject("77", "Москва"),
	subject("78", "Санкт-Петербург"),
	subject("79", "Еврейская автономная область"),
	subject("83", "Ненецкий автономный округ"),
	subject("86", "Ханты-Мансийский автономный округ - Югра"),
	subject("87", "Чукотский автономный округ"),
	subject("89", "Ямало-Ненецкий автономный округ"),
}

func subject(code, name string) Region {
	return Region{ID: code, Name: name, Code: code}
}

// SeedRegions loads regions into an in-memory directory.
func (d *MemoryDirectory) SeedRegions(regions []Region) {
	for _, r := range regions {
		d.AddRegion(r)
	}
}

// UpsertRegions inserts regions, refreshing the name of existing rows.
func (d *PostgresDirectory) UpsertRegions(ctx context.Context, regions []Region) error {
	for _, r := range regions {
		_, err := d.db.Exec(ctx, `INSERT INTO regions (id, name, code) VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, code = EXCLUDED.code`, r.ID, r.Name, nullableCode(r.Code))
		if err != nil {
			return fmt.Errorf("upsert region %s: %w", r.ID, err)
		}
	}
	return nil
}

func nullableCode(code string) any {
	if code == "" {
		return nil
	}
	return code
}
