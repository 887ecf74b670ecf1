package gpkg

// Core tables created by Create. Only the subset the core reads and writes
// is defined; extension and metadata tables are left to other tools.
var coreSchema = []string{
	`CREATE TABLE IF NOT EXISTS gpkg_spatial_ref_sys (
		srs_name TEXT NOT NULL,
		srs_id INTEGER PRIMARY KEY,
		organization TEXT NOT NULL,
		organization_coordsys_id INTEGER NOT NULL,
		definition TEXT NOT NULL,
		description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS gpkg_contents (
		table_name TEXT NOT NULL PRIMARY KEY,
		data_type TEXT NOT NULL,
		identifier TEXT UNIQUE,
		description TEXT DEFAULT '',
		last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		min_x DOUBLE,
		min_y DOUBLE,
		max_x DOUBLE,
		max_y DOUBLE,
		srs_id INTEGER,
		CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
	`CREATE TABLE IF NOT EXISTS gpkg_geometry_columns (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		geometry_type_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL,
		z TINYINT NOT NULL,
		m TINYINT NOT NULL,
		CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
		CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
		CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys (srs_id)
	)`,
	`CREATE TABLE IF NOT EXISTS gpkg_tile_matrix_set (
		table_name TEXT NOT NULL PRIMARY KEY,
		srs_id INTEGER NOT NULL,
		min_x DOUBLE NOT NULL,
		min_y DOUBLE NOT NULL,
		max_x DOUBLE NOT NULL,
		max_y DOUBLE NOT NULL,
		CONSTRAINT fk_gtms_table_name FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
		CONSTRAINT fk_gtms_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys (srs_id)
	)`,
	`CREATE TABLE IF NOT EXISTS gpkg_tile_matrix (
		table_name TEXT NOT NULL,
		zoom_level INTEGER NOT NULL,
		matrix_width INTEGER NOT NULL,
		matrix_height INTEGER NOT NULL,
		tile_width INTEGER NOT NULL,
		tile_height INTEGER NOT NULL,
		pixel_x_size DOUBLE NOT NULL,
		pixel_y_size DOUBLE NOT NULL,
		CONSTRAINT pk_ttm PRIMARY KEY (table_name, zoom_level),
		CONSTRAINT fk_tmm_table_name FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name)
	)`,
	`CREATE TABLE IF NOT EXISTS gpkg_2d_gridded_coverage_ancillary (
		id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
		tile_matrix_set_name TEXT NOT NULL UNIQUE,
		datatype TEXT NOT NULL DEFAULT 'integer',
		scale REAL NOT NULL DEFAULT 1.0,
		offset REAL NOT NULL DEFAULT 0.0,
		precision REAL DEFAULT 1.0,
		data_null REAL,
		grid_cell_encoding TEXT DEFAULT 'grid-value-is-center',
		uom TEXT,
		field_name TEXT DEFAULT 'Height',
		quantity_definition TEXT DEFAULT 'Height',
		CONSTRAINT fk_g2dgtct_name FOREIGN KEY (tile_matrix_set_name) REFERENCES gpkg_tile_matrix_set(table_name),
		CHECK (datatype IN ('integer','float'))
	)`,
	`CREATE TABLE IF NOT EXISTS gpkg_2d_gridded_tile_ancillary (
		id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
		tpudt_name TEXT NOT NULL,
		tpudt_id INTEGER NOT NULL,
		scale REAL NOT NULL DEFAULT 1.0,
		offset REAL NOT NULL DEFAULT 0.0,
		min REAL DEFAULT NULL,
		max REAL DEFAULT NULL,
		mean REAL DEFAULT NULL,
		std_dev REAL DEFAULT NULL,
		CONSTRAINT fk_g2dgtat_name FOREIGN KEY (tpudt_name) REFERENCES gpkg_contents(table_name),
		UNIQUE (tpudt_name, tpudt_id)
	)`,
}

// requiredTables must exist for Open to accept a file.
var requiredTables = []string{"gpkg_spatial_ref_sys", "gpkg_contents"}

// SpatialRefSys is a gpkg_spatial_ref_sys row.
type SpatialRefSys struct {
	Name          string
	ID            int
	Organization  string
	OrgCoordsysID int
	Definition    string
	Description   string
}

const wgs84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

const webMercatorWKT = `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["X",EAST],AXIS["Y",NORTH],EXTENSION["PROJ4","+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +wktext +no_defs"],AUTHORITY["EPSG","3857"]]`

// DefaultSRS are the spatial reference systems every new container carries.
var DefaultSRS = []SpatialRefSys{
	{Name: "Undefined cartesian SRS", ID: -1, Organization: "NONE", OrgCoordsysID: -1, Definition: "undefined", Description: "undefined cartesian coordinate reference system"},
	{Name: "Undefined geographic SRS", ID: 0, Organization: "NONE", OrgCoordsysID: 0, Definition: "undefined", Description: "undefined geographic coordinate reference system"},
	{Name: "WGS 84 geodetic", ID: 4326, Organization: "EPSG", OrgCoordsysID: 4326, Definition: wgs84WKT, Description: "longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid"},
	{Name: "WGS 84 / Pseudo-Mercator", ID: 3857, Organization: "EPSG", OrgCoordsysID: 3857, Definition: webMercatorWKT, Description: "spherical mercator used by web maps"},
}

// applicationID is "GPKG" as a big-endian int32.
const applicationID = 0x47504B47

const userVersion = 10300
